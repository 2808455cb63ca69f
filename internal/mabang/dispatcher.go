package mabang

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// dispatcherMaxAttempts bounds the application-level retry: transient
	// failures are resubmitted until this many attempts were made in total.
	dispatcherMaxAttempts = 3
	dispatcherBackoff     = time.Second
)

// sessionExpiredMarkers are the phrases the backends use to report a lapsed
// session inside an otherwise well-formed envelope.
var sessionExpiredMarkers = []string{"登录信息已超时", "请重新登录"}

// FormFile is one file part of a multipart upload. Content is held in memory
// so retried attempts can replay the body.
type FormFile struct {
	Field       string
	Name        string
	ContentType string
	Content     []byte
}

// Dispatcher executes logical calls against the backends: it pulls a live
// session before every attempt, decodes the response envelope, classifies the
// outcome and applies the bounded retry policy. Business rejections are never
// retried; transport, protocol and session-expired failures are.
type Dispatcher struct {
	sessions *SessionManager
	eps      *Endpoints
	log      *zap.Logger

	maxAttempts   int
	retryInterval time.Duration

	attempts atomic.Int64
}

// NewDispatcher creates a dispatcher bound to a session manager and endpoint
// table.
func NewDispatcher(sessions *SessionManager, eps *Endpoints, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions:      sessions,
		eps:           eps,
		log:           log.Named("dispatch"),
		maxAttempts:   dispatcherMaxAttempts,
		retryInterval: dispatcherBackoff,
	}
}

// Attempts returns the cumulative number of attempts this dispatcher has
// made, across retries.
func (d *Dispatcher) Attempts() int64 {
	return d.attempts.Load()
}

// Send executes one logical call and returns its decoded envelope. method is
// "get" or "post"; payload travels as query parameters or an urlencoded form
// accordingly.
func (d *Dispatcher) Send(ctx context.Context, endpoint, method string, payload url.Values) (*Envelope, error) {
	var env *Envelope
	err := d.retry(ctx, func() error {
		e, err := d.sendOnce(ctx, endpoint, method, payload, nil)
		if err != nil {
			return err
		}
		env = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// SendMultipart executes a file-bearing call and returns its decoded
// envelope.
func (d *Dispatcher) SendMultipart(ctx context.Context, endpoint string, fields url.Values, file FormFile) (*Envelope, error) {
	var env *Envelope
	err := d.retry(ctx, func() error {
		e, err := d.sendOnce(ctx, endpoint, http.MethodPost, fields, &file)
		if err != nil {
			return err
		}
		env = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// PostMultipartRaw executes a file-bearing call and returns the raw response
// body. Some upload endpoints answer with a non-envelope body that callers
// inspect themselves.
func (d *Dispatcher) PostMultipartRaw(ctx context.Context, endpoint string, fields url.Values, file FormFile) ([]byte, error) {
	var body []byte
	err := d.retry(ctx, func() error {
		b, status, err := d.do(ctx, endpoint, http.MethodPost, fields, &file)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("%w: %s answered status %d", ErrProtocol, endpoint, status)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Get fetches a named endpoint with query parameters and returns the raw
// body, for the endpoints that serve HTML pages instead of envelopes.
func (d *Dispatcher) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	var body []byte
	err := d.retry(ctx, func() error {
		b, status, err := d.do(ctx, endpoint, http.MethodGet, query, nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("%w: %s answered status %d", ErrProtocol, endpoint, status)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchURL downloads an absolute URL through the session, for resources whose
// location a previous call handed back (export downloads).
func (d *Dispatcher) FetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := d.retry(ctx, func() error {
		client, err := d.sessions.EnsureValid(ctx)
		if err != nil {
			return err
		}
		d.attempts.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s answered status %d", ErrProtocol, rawURL, resp.StatusCode)
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// retry is the bounded-retry combinator: it resubmits op on retryable errors
// only, up to the attempt bound, with a fixed backoff.
func (d *Dispatcher) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			d.log.Warn("attempt failed, will retry", zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryInterval), uint64(d.maxAttempts-1)),
		ctx)
	return backoff.Retry(wrapped, policy)
}

// sendOnce performs a single attempt and classifies the outcome.
func (d *Dispatcher) sendOnce(ctx context.Context, endpoint, method string, payload url.Values, file *FormFile) (*Envelope, error) {
	body, status, err := d.do(ctx, endpoint, method, payload, file)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s answered status %d", ErrProtocol, endpoint, status)
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		if isSessionExpired(env.Message) {
			d.log.Warn("backend reports session expired, forcing re-login",
				zap.String("endpoint", endpoint))
			if lerr := d.sessions.ForceLogin(ctx); lerr != nil {
				return nil, lerr
			}
			return nil, fmt.Errorf("%w: %s", ErrSessionExpired, env.Message)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrBusiness, endpoint, env.Message)
	}
	if env.ErrorMessage != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrBusiness, endpoint, env.ErrorMessage)
	}
	return env, nil
}

// do builds and executes one HTTP attempt, returning the raw body and status.
func (d *Dispatcher) do(ctx context.Context, endpoint, method string, payload url.Values, file *FormFile) ([]byte, int, error) {
	client, err := d.sessions.EnsureValid(ctx)
	if err != nil {
		return nil, 0, err
	}
	rawURL, err := d.eps.Resolve(endpoint)
	if err != nil {
		return nil, 0, err
	}

	var req *http.Request
	switch {
	case file != nil:
		req, err = newMultipartRequest(ctx, rawURL, payload, file)
	case strings.EqualFold(method, http.MethodGet):
		var u string
		if u, err = withQuery(rawURL, payload); err == nil {
			req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		}
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(payload.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	attempt := d.attempts.Add(1)
	d.log.Debug("dispatch",
		zap.String("endpoint", endpoint),
		zap.String("method", method),
		zap.Int64("attempt", attempt))

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrTransport, endpoint, err)
	}
	return body, resp.StatusCode, nil
}

// newMultipartRequest assembles a multipart POST with form fields and one
// file part.
func newMultipartRequest(ctx context.Context, rawURL string, fields url.Values, file *FormFile) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

// isSessionExpired reports whether an envelope message carries one of the
// backends' session-expiry phrases.
func isSessionExpired(message string) bool {
	for _, marker := range sessionExpiredMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
