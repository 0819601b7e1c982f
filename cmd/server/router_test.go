package main

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sangue/internal/docstore"
	"sangue/internal/donation/service"
	"sangue/internal/platform/config"
	"sangue/pkg/testutil"
)

// The router registers process-wide metrics, so it is built once.
func TestRouter(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	log := slog.New(slog.DiscardHandler)
	svc := service.New(store, service.WithLogger(log))
	require.NoError(t, svc.Init(ctx, nil))
	router := newRouter(svc, config.Server{RequestTimeout: 5 * time.Second}, log)

	t.Run("health", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		var body map[string]string
		require.NoError(t, testutil.DecodeBody(rr, &body))
		assert.Equal(t, "ok", body["status"])
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	t.Run("metrics", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("invalid donor email", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/doador", map[string]any{"email": "nope"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	testutil.Given(t, "a registered donor and a new campaign", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/doador", map[string]any{"email": "a@x.com"}))
		testutil.AssertStatus(t, rr, http.StatusCreated)
		var donor map[string]any
		require.NoError(t, testutil.DecodeBody(rr, &donor))
		assert.Equal(t, "a@x.com", donor["email"])
		assert.NotEmpty(t, donor["id"])

		rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/campanha", map[string]any{"name": "Drive1", "status": "Active"}))
		testutil.AssertStatus(t, rr, http.StatusCreated)
		var campaign map[string]any
		require.NoError(t, testutil.DecodeBody(rr, &campaign))
		assert.NotContains(t, campaign, "participants")
		join := map[string]any{"email": "a@x.com", "id": campaign["id"]}

		testutil.When(t, "the donor joins", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/doador/campanha", join))
			testutil.AssertStatusOK(t, rr)
			var echoed map[string]any
			require.NoError(t, testutil.DecodeBody(rr, &echoed))
			assert.NotContains(t, echoed, "participants")

			testutil.Then(t, "the stored campaign lists the donor", func(t *testing.T) {
				stored, err := store.Query(ctx, "campanhas", docstore.Eq("id", campaign["id"]))
				require.NoError(t, err)
				require.Len(t, stored, 1)
				participants, _ := stored[0].Strings("participants")
				assert.Equal(t, []string{"a@x.com"}, participants)
			})
		})

		testutil.When(t, "the donor joins again", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/doador/campanha", join))

			testutil.Then(t, "the request conflicts", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusConflict)
			})
		})
	})
}
