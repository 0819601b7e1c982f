package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxImageBytes caps the size of a downloaded campaign image.
const maxImageBytes = 10 << 20

// HTTPBlobFetcher downloads blobs over HTTP. References that are not
// absolute URLs are resolved against the base URL.
type HTTPBlobFetcher struct {
	client *http.Client
	base   *url.URL
}

// NewHTTPBlobFetcher builds a fetcher. baseURL may be empty when every
// reference is an absolute URL.
func NewHTTPBlobFetcher(baseURL string, timeout time.Duration) (*HTTPBlobFetcher, error) {
	f := &HTTPBlobFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse blob base URL: %w", err)
		}
		f.base = base
	}
	return f, nil
}

func (f *HTTPBlobFetcher) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse blob reference: %w", err)
	}
	if u.IsAbs() {
		return u, nil
	}
	if f.base == nil {
		return nil, fmt.Errorf("relative blob reference %q without base URL", ref)
	}
	return f.base.ResolveReference(u), nil
}

func (f *HTTPBlobFetcher) Fetch(ctx context.Context, ref string) (*Attachment, error) {
	u, err := f.resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build blob request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blob: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch blob: unexpected status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if len(content) > maxImageBytes {
		return nil, fmt.Errorf("blob exceeds %d bytes", maxImageBytes)
	}

	filename := path.Base(u.Path)
	if filename == "." || filename == "/" {
		filename = "campanha"
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	return &Attachment{Filename: filename, ContentType: contentType, Content: content}, nil
}
