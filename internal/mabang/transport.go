package mabang

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	transportMaxTries = 5
	transportBackoff  = 500 * time.Millisecond
)

var errRetryableStatus = errors.New("mabang: retryable gateway status")

// retryTransport retries a small set of gateway error statuses below the
// application-level retry policy. Only requests with a replayable body are
// retried more than once.
type retryTransport struct {
	next  http.RoundTripper
	tries uint64
	wait  time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	attempt := 0
	op := func() error {
		if attempt > 0 {
			if req.GetBody == nil && req.Body != nil {
				// Body already consumed and not replayable, hand back
				// whatever we have.
				return nil
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return backoff.Permanent(err)
				}
				req.Body = body
			}
		}
		attempt++
		r, err := t.next.RoundTrip(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.StatusCode == http.StatusBadGateway || r.StatusCode == http.StatusGatewayTimeout {
			if resp != nil {
				resp.Body.Close()
			}
			resp = r
			return errRetryableStatus
		}
		resp = r
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(t.wait), t.tries-1)
	if req.Context() != nil {
		policy = backoff.WithContext(policy, req.Context())
	}
	err := backoff.Retry(op, policy)
	if err != nil && !errors.Is(err, errRetryableStatus) {
		return nil, err
	}
	// Retries exhausted on a gateway status: surface the last response and
	// let the dispatcher classify it.
	return resp, nil
}

// newHTTPTransport builds the pooled transport shared by all calls of one
// client.
func newHTTPTransport() http.RoundTripper {
	base := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &retryTransport{next: base, tries: transportMaxTries, wait: transportBackoff}
}
