package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/flagcore/flagcore/internal/api"
	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/coordinator"
	"github.com/flagcore/flagcore/internal/evaluation"
	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/store"
)

// Stack is a fully wired in-memory instance of the flag core for tests.
type Stack struct {
	Server      *api.Server
	Coordinator *coordinator.Coordinator
	Evaluator   *evaluation.Evaluator
	Cache       *store.Cache
	Feed        *changelog.Log
	Durable     *store.MemoryDurable
}

// NewStack builds the core on an in-memory durable store.
func NewStack(t *testing.T, adminKey, salt string) *Stack {
	t.Helper()
	durable := store.NewMemoryDurable()
	cache := store.NewCache()
	feed := changelog.New(changelog.DefaultRetain)
	coord := coordinator.New(durable, cache, feed, zerolog.Nop())
	evaluator := evaluation.New(cache, salt)
	server := api.NewServer(coord, evaluator, cache, feed, adminKey, 0, zerolog.Nop())
	return &Stack{
		Server:      server,
		Coordinator: coord,
		Evaluator:   evaluator,
		Cache:       cache,
		Feed:        feed,
		Durable:     durable,
	}
}

// SeedFlags applies the given intents through the coordinator.
func SeedFlags(ctx context.Context, coord *coordinator.Coordinator, intents []flag.Intent) error {
	for _, in := range intents {
		if _, err := coord.Apply(ctx, in, nil); err != nil {
			return err
		}
	}
	return nil
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
