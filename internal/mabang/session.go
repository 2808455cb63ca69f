package mabang

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// SessionState is the explicit lifecycle of a session.
type SessionState int

const (
	SessionUnvalidated SessionState = iota
	SessionValid
	SessionInvalid
)

const (
	// loginMarker appears in the primary and aux index pages only while the
	// session cookie is accepted.
	loginMarker = "企业编号"
	// loginCookieName carries the primary session token that must be
	// propagated into the aux backend.
	loginCookieName = "MABANG_ERP_PRO_MEMBERINFO_LOGIN_COOKIE"
	// maxValidationFailures is the consecutive-failure bound before the
	// credentials are declared bad.
	maxValidationFailures = 3
	// maxResponseSize caps the bytes read from any backend response.
	maxResponseSize = 10 * 1024 * 1024
)

// session is the data-only state of one authenticated session. It is mutated
// exclusively by SessionManager under its mutex.
type session struct {
	state       SessionState
	validatedAt time.Time
	failures    int
}

// SessionManager owns the single logical session for one credential set. It
// performs the three-backend login, lazily revalidates on access once the TTL
// lapses, and serializes the validate/login critical section so concurrent
// callers never trigger duplicate logins.
type SessionManager struct {
	cfg *Config
	eps *Endpoints
	log *zap.Logger

	transport http.RoundTripper
	timeout   time.Duration

	// client is replaced wholesale on login and never mutated after it has
	// been handed out, so requests in flight on an older client keep their
	// cookie jar.
	mu     sync.Mutex
	sess   session
	client *http.Client

	now func() time.Time
}

// NewSessionManager creates a session manager for the given credentials. The
// session starts unvalidated; the first access logs in.
func NewSessionManager(cfg *Config, eps *Endpoints, log *zap.Logger) (*SessionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("mabang: cookie jar: %w", err)
	}
	transport := newHTTPTransport()
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &SessionManager{
		cfg:       cfg,
		eps:       eps,
		log:       log.Named("session"),
		transport: transport,
		timeout:   timeout,
		client:    &http.Client{Transport: transport, Jar: jar, Timeout: timeout},
		now:       time.Now,
	}, nil
}

// EnsureValid returns a session-bound HTTP client, revalidating (and logging
// in if needed) when the session is unvalidated, invalid, or older than the
// TTL. It fails with ErrAuthFailed after repeated validation failures and
// with ErrLogin when any login step fails.
func (m *SessionManager) EnsureValid(ctx context.Context) (*http.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.state == SessionValid && m.now().Sub(m.sess.validatedAt) <= m.cfg.SessionTTL {
		return m.client, nil
	}
	if err := m.revalidateLocked(ctx); err != nil {
		return nil, err
	}
	return m.client, nil
}

// ForceLogin re-authenticates immediately, regardless of the current state.
// The dispatcher calls this when a backend reports the session expired.
func (m *SessionManager) ForceLogin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.state = SessionInvalid
	if err := m.loginLocked(ctx); err != nil {
		return err
	}
	return m.revalidateLocked(ctx)
}

// State returns the current session state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.state
}

// revalidateLocked probes the three backends and logs in as long as they
// disagree, up to the consecutive-failure bound.
func (m *SessionManager) revalidateLocked(ctx context.Context) error {
	for {
		ok, err := m.probeLocked(ctx)
		if err != nil {
			return err
		}
		if ok {
			m.sess.state = SessionValid
			m.sess.validatedAt = m.now()
			m.sess.failures = 0
			m.log.Debug("session validated", zap.String("user", m.cfg.Username))
			return nil
		}
		m.sess.state = SessionInvalid
		m.sess.failures++
		if m.sess.failures >= maxValidationFailures {
			return fmt.Errorf("%w: %d consecutive failures for user %s",
				ErrAuthFailed, m.sess.failures, m.cfg.Username)
		}
		m.log.Info("session not live, logging in",
			zap.String("user", m.cfg.Username),
			zap.Int("failures", m.sess.failures))
		if err := m.loginLocked(ctx); err != nil {
			return err
		}
	}
}

// probeLocked checks that all three backends agree the session is live: the
// primary and aux index pages must both carry the login marker, and the
// votobo check endpoint must answer with an explicit success flag.
func (m *SessionManager) probeLocked(ctx context.Context) (bool, error) {
	auxBody, err := m.getText(ctx, m.client, EndpointAuxAPI, nil)
	if err != nil {
		return false, err
	}
	primaryBody, err := m.getText(ctx, m.client, EndpointIndex, nil)
	if err != nil {
		return false, err
	}
	checkBody, err := m.getText(ctx, m.client, EndpointVotoboCheck, nil)
	if err != nil {
		return false, err
	}
	var check struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(checkBody), &check); err != nil {
		return false, nil
	}
	return strings.Contains(auxBody, loginMarker) &&
		strings.Contains(primaryBody, loginMarker) &&
		check.Success, nil
}

// loginLocked runs the three-step cross-service login on a candidate client
// with a fresh cookie jar and publishes the candidate only when every step
// succeeded. A failed login never clobbers the previous session state, and
// the previous client is left untouched for callers still holding it.
func (m *SessionManager) loginLocked(ctx context.Context) error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("%w: cookie jar: %v", ErrLogin, err)
	}
	candidate := &http.Client{Transport: m.transport, Jar: jar, Timeout: m.timeout}

	// Step 1: primary backend.
	loginURL, err := m.eps.Resolve(EndpointLogin)
	if err != nil {
		return err
	}
	form := url.Values{"username": {m.cfg.Username}, "password": {m.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogin, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := candidate.Do(req)
	if err != nil {
		return fmt.Errorf("%w: primary backend: %v", ErrLogin, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("%w: primary backend: %v", ErrLogin, err)
	}
	var loginResp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return fmt.Errorf("%w: primary backend answered %q", ErrLogin, truncate(string(body), 150))
	}
	if !loginResp.Success {
		return fmt.Errorf("%w: primary backend: %s", ErrLogin, loginResp.Message)
	}
	token := sessionToken(resp.Cookies())
	if token == "" {
		return fmt.Errorf("%w: primary backend did not issue a session cookie", ErrLogin)
	}
	m.log.Info("primary login succeeded", zap.String("user", m.cfg.Username))

	// Step 2: register the token with the aux backend.
	auxQuery := url.Values{
		"mod":          {"stock.list"},
		"searchStatus": {"3"},
		"cMKey":        {token},
		"lang":         {"cn"},
	}
	if _, err := m.getText(ctx, candidate, EndpointAuxAPI, auxQuery); err != nil {
		return fmt.Errorf("%w: aux backend: %v", ErrLogin, err)
	}

	// Step 3: votobo login with the derived key.
	votoboQuery := url.Values{
		"mbkey":          {m.cfg.VotoboKey()},
		"private_mabang": {""},
	}
	votoboBody, err := m.getText(ctx, candidate, EndpointVotoboLogin, votoboQuery)
	if err != nil {
		return fmt.Errorf("%w: votobo backend: %v", ErrLogin, err)
	}
	var votoboResp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(votoboBody), &votoboResp); err != nil || !votoboResp.Success {
		return fmt.Errorf("%w: votobo backend answered %q", ErrLogin, truncate(votoboBody, 150))
	}

	// All three steps succeeded; only now publish the candidate.
	m.client = candidate
	m.log.Info("login succeeded on all backends", zap.String("user", m.cfg.Username))
	return nil
}

// getText issues a GET against a named endpoint and returns the body text.
// Transport failures are wrapped as ErrTransport.
func (m *SessionManager) getText(ctx context.Context, client *http.Client, endpoint string, query url.Values) (string, error) {
	rawURL, err := m.eps.Resolve(endpoint)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		rawURL, err = withQuery(rawURL, query)
		if err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return string(body), nil
}

// sessionToken extracts the primary session cookie from a login response.
func sessionToken(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name == loginCookieName {
			return c.Value
		}
	}
	return ""
}

// withQuery merges extra query parameters into a URL that may already carry
// some.
func withQuery(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
