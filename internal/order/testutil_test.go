package order

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erp/mabang/internal/mabang"
)

// fakeAPI satisfies the API interface with per-call hooks.
type fakeAPI struct {
	sendFn    func(endpoint, method string, payload url.Values) (*mabang.Envelope, error)
	getFn     func(endpoint string, query url.Values) ([]byte, error)
	fetchFn   func(rawURL string) ([]byte, error)
	postRawFn func(endpoint string, fields url.Values, file mabang.FormFile) ([]byte, error)
}

func (f *fakeAPI) Send(_ context.Context, endpoint, method string, payload url.Values) (*mabang.Envelope, error) {
	return f.sendFn(endpoint, method, payload)
}

func (f *fakeAPI) Get(_ context.Context, endpoint string, query url.Values) ([]byte, error) {
	return f.getFn(endpoint, query)
}

func (f *fakeAPI) FetchURL(_ context.Context, rawURL string) ([]byte, error) {
	return f.fetchFn(rawURL)
}

func (f *fakeAPI) PostMultipartRaw(_ context.Context, endpoint string, fields url.Values, file mabang.FormFile) ([]byte, error) {
	return f.postRawFn(endpoint, fields, file)
}

// envelope builds a decoded envelope from arbitrary top-level fields.
func envelope(t *testing.T, fields map[string]any) *mabang.Envelope {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	env, err := mabang.DecodeEnvelope(body)
	require.NoError(t, err)
	return env
}
