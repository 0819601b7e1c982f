package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBlobFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/campanhas/drive1.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	fetcher, err := NewHTTPBlobFetcher(srv.URL, time.Second)
	require.NoError(t, err)

	t.Run("relative reference", func(t *testing.T) {
		a, err := fetcher.Fetch(context.Background(), "campanhas/drive1.png")
		require.NoError(t, err)
		assert.Equal(t, "drive1.png", a.Filename)
		assert.Equal(t, "image/png", a.ContentType)
		assert.Equal(t, []byte("png-bytes"), a.Content)
	})

	t.Run("absolute reference", func(t *testing.T) {
		a, err := fetcher.Fetch(context.Background(), srv.URL+"/campanhas/drive1.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), a.Content)
	})

	t.Run("missing blob", func(t *testing.T) {
		_, err := fetcher.Fetch(context.Background(), "campanhas/other.png")
		assert.ErrorContains(t, err, "unexpected status 404")
	})
}

func TestHTTPBlobFetcherRelativeWithoutBase(t *testing.T) {
	fetcher, err := NewHTTPBlobFetcher("", time.Second)
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), "campanhas/drive1.png")
	assert.Error(t, err)
}
