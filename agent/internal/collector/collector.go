package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pipepulse/pipepulse/agent/internal/config"
	"github.com/pipepulse/pipepulse/pkg/types"
)

const defaultPollTimeout = 15 * time.Second

// Event is one build observed at a CI source, ready to be shipped to the
// server's ingest endpoint for the named provider.
type Event struct {
	Provider string
	Payload  types.IngestPayload
}

// Collector polls one CI source for newly completed builds. Each call returns
// only builds not seen by a previous call; collectors keep an internal cursor,
// so a Collector is not safe for concurrent use.
type Collector interface {
	Collect(ctx context.Context) ([]Event, error)
}

// New returns the appropriate Collector for the given source configuration.
// The HTTP client is built once and reused across poll cycles.
func New(src config.Source) (Collector, error) {
	client := buildHTTPClient(src)
	switch src.Type {
	case "github":
		return &githubCollector{src: src, client: client}, nil
	case "jenkins":
		return &jenkinsCollector{src: src, client: client}, nil
	default:
		return nil, fmt.Errorf("collector: unsupported type %q", src.Type)
	}
}

// authRoundTripper injects source credentials into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	src  config.Source
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.src.Token()
	switch {
	case t.src.Type == "github" && token != "":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
	case t.src.Type == "jenkins" && t.src.User != "":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.src.User, token)
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth settings.
func buildHTTPClient(src config.Source) *http.Client {
	return &http.Client{
		Transport: &authRoundTripper{base: http.DefaultTransport, src: src},
		Timeout:   defaultPollTimeout,
	}
}

// pageSize returns the configured page size or the default.
func pageSize(src config.Source) int {
	if src.PageSize > 0 {
		return src.PageSize
	}
	return config.DefaultPageSize
}
