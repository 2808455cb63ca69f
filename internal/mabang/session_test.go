package mabang

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackends simulates the three cooperating backends on one test server,
// keyed by the mod query parameter.
type fakeBackends struct {
	srv *httptest.Server

	mu          sync.Mutex
	loggedIn    bool
	loginCalls  int
	probeCalls  int
	apiCalls    int
	failLogin   bool
	failVotobo  bool
	brokenLogin bool // login reports success but never produces a live session
	apiHandler  func(w http.ResponseWriter, r *http.Request)
}

func newFakeBackends(t *testing.T) *fakeBackends {
	t.Helper()
	b := &fakeBackends{}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackends) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch r.URL.Query().Get("mod") {
	case "main.doLogin":
		b.loginCalls++
		if b.failLogin {
			fmt.Fprint(w, `{"success":false,"message":"账号或密码错误"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: loginCookieName, Value: "tok-123"})
		if !b.brokenLogin {
			b.loggedIn = true
		}
		fmt.Fprint(w, `{"success":true,"message":"ok"}`)
	case "vmain.mbLogin":
		if b.failVotobo {
			fmt.Fprint(w, `{"success":false}`)
			return
		}
		fmt.Fprint(w, `{"success":true}`)
	case "messageNotice.messageList":
		json.NewEncoder(w).Encode(map[string]bool{"success": b.loggedIn})
	case "stock.list":
		fmt.Fprint(w, "<html>企业编号: 123</html>")
	case "":
		b.probeCalls++
		if b.loggedIn {
			fmt.Fprint(w, "<html>企业编号: 123</html>")
		} else {
			fmt.Fprint(w, "<html>请登录</html>")
		}
	default:
		b.apiCalls++
		if b.apiHandler != nil {
			b.apiHandler(w, r)
			return
		}
		fmt.Fprint(w, `{"success":true,"message":"ok"}`)
	}
}

func (b *fakeBackends) logins() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCalls
}

func (b *fakeBackends) api() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.apiCalls
}

func testConfig(b *fakeBackends) *Config {
	return &Config{
		Username:       "tester",
		Password:       "secret",
		BusinessNumber: "BN01",
		UserID:         "U01",
		PrimaryBaseURL: b.srv.URL,
		AuxBaseURL:     b.srv.URL,
		VotoboBaseURL:  b.srv.URL,
		BiaojuBaseURL:  b.srv.URL,
	}
}

func newTestManager(t *testing.T, b *fakeBackends) *SessionManager {
	t.Helper()
	cfg := testConfig(b)
	m, err := NewSessionManager(cfg, DefaultEndpoints(cfg), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestEnsureValidLogsInOnce(t *testing.T) {
	b := newFakeBackends(t)
	m := newTestManager(t, b)

	_, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SessionValid, m.State())
	assert.Equal(t, 1, b.logins())

	// Within the TTL the second access must not touch the network.
	probes := b.probeCalls
	_, err = m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.logins())
	assert.Equal(t, probes, b.probeCalls)
}

func TestEnsureValidRevalidatesAfterTTL(t *testing.T) {
	b := newFakeBackends(t)
	m := newTestManager(t, b)

	clock := time.Now()
	m.now = func() time.Time { return clock }

	_, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, b.logins())

	clock = clock.Add(11 * time.Minute)
	_, err = m.EnsureValid(context.Background())
	require.NoError(t, err)
	// The session is still live, so a probe suffices and no second login
	// happens.
	assert.Equal(t, 1, b.logins())
	assert.GreaterOrEqual(t, b.probeCalls, 2)
}

func TestLoginFailureSurfacesAsErrLogin(t *testing.T) {
	b := newFakeBackends(t)
	b.failLogin = true
	m := newTestManager(t, b)

	_, err := m.EnsureValid(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogin)
	assert.Equal(t, SessionInvalid, m.State())
}

func TestLoginIsAtomicAcrossBackends(t *testing.T) {
	b := newFakeBackends(t)
	b.failVotobo = true
	m := newTestManager(t, b)

	_, err := m.EnsureValid(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLogin)
	assert.Equal(t, SessionInvalid, m.State())
}

func TestAuthFailedAfterRepeatedValidationFailures(t *testing.T) {
	b := newFakeBackends(t)
	b.brokenLogin = true
	m := newTestManager(t, b)

	_, err := m.EnsureValid(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
	// Three probe failures with a login after each of the first two.
	assert.Equal(t, 2, b.logins())
}

func TestForceLoginReauthenticates(t *testing.T) {
	b := newFakeBackends(t)
	m := newTestManager(t, b)

	_, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, b.logins())

	require.NoError(t, m.ForceLogin(context.Background()))
	assert.Equal(t, SessionValid, m.State())
	assert.Equal(t, 2, b.logins())
}

func TestLoginPublishesNewClientWithoutMutatingOld(t *testing.T) {
	b := newFakeBackends(t)
	m := newTestManager(t, b)

	first, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	oldJar := first.Jar

	require.NoError(t, m.ForceLogin(context.Background()))
	second, err := m.EnsureValid(context.Background())
	require.NoError(t, err)

	// Re-login must hand out a replacement client; the one already given
	// out keeps its jar untouched.
	assert.NotSame(t, first, second)
	assert.Same(t, oldJar, first.Jar)
	assert.NotSame(t, first.Jar, second.Jar)
}

func TestConcurrentRequestsDuringRelogin(t *testing.T) {
	b := newFakeBackends(t)
	m := newTestManager(t, b)

	_, err := m.EnsureValid(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				client, err := m.EnsureValid(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				resp, err := client.Get(b.srv.URL + "/?mod=api.ping")
				if !assert.NoError(t, err) {
					return
				}
				resp.Body.Close()
			}
		}()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, m.ForceLogin(context.Background()))
	}
	wg.Wait()
}

func TestEnsureValidSerializesConcurrentCallers(t *testing.T) {
	b := newFakeBackends(t)
	m := newTestManager(t, b)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.EnsureValid(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, b.logins())
}
