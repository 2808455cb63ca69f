package mabang

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, b *fakeBackends) *Dispatcher {
	t.Helper()
	cfg := testConfig(b)
	eps := DefaultEndpoints(cfg)
	sessions, err := NewSessionManager(cfg, eps, zap.NewNop())
	require.NoError(t, err)
	d := NewDispatcher(sessions, eps, zap.NewNop())
	d.retryInterval = time.Millisecond
	return d
}

func TestSendDecodesEnvelope(t *testing.T) {
	b := newFakeBackends(t)
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"message":"ok","rows":[{"platformOrderId":"PO1"}]}`)
	}
	d := newTestDispatcher(t, b)

	env, err := d.Send(context.Background(), EndpointOrderSearch, "post", url.Values{})
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.True(t, env.HasField("rows"))
	assert.Equal(t, 1, b.api())
}

func TestSendRetriesTransientFailuresThreeTimes(t *testing.T) {
	b := newFakeBackends(t)
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	d := newTestDispatcher(t, b)

	_, err := d.Send(context.Background(), EndpointOrderSearch, "post", url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, 3, b.api())
}

func TestSendDoesNotRetryBusinessRejections(t *testing.T) {
	b := newFakeBackends(t)
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"message":"库存不足"}`)
	}
	d := newTestDispatcher(t, b)

	_, err := d.Send(context.Background(), EndpointOrderSearch, "post", url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusiness)
	assert.Equal(t, 1, b.api())
}

func TestSendTreatsErrorMessageAsRejection(t *testing.T) {
	b := newFakeBackends(t)
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"errorMessage":"第2行导入失败"}`)
	}
	d := newTestDispatcher(t, b)

	_, err := d.Send(context.Background(), EndpointOrderSearch, "post", url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusiness)
	assert.Equal(t, 1, b.api())
}

func TestSendRecoversFromSessionExpiry(t *testing.T) {
	b := newFakeBackends(t)
	expired := true
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		if expired {
			expired = false
			fmt.Fprint(w, `{"success":false,"message":"登录信息已超时"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"message":"ok"}`)
	}
	d := newTestDispatcher(t, b)

	env, err := d.Send(context.Background(), EndpointOrderSearch, "post", url.Values{})
	require.NoError(t, err)
	assert.True(t, env.Success)
	// One login to establish the session, one forced by the expiry, then
	// the resubmitted call succeeds.
	assert.Equal(t, 2, b.logins())
	assert.Equal(t, 2, b.api())
}

func TestSendFailsOnUnknownEndpoint(t *testing.T) {
	b := newFakeBackends(t)
	d := newTestDispatcher(t, b)

	_, err := d.Send(context.Background(), "no_such_endpoint", "post", url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestGetReturnsRawBody(t *testing.T) {
	b := newFakeBackends(t)
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>detail&orderId=4711&x=1</html>")
	}
	d := newTestDispatcher(t, b)

	body, err := d.Get(context.Background(), EndpointStockList, url.Values{"page": {"1"}})
	require.NoError(t, err)
	assert.Contains(t, string(body), "orderId=4711")
}

func TestSendMultipartCarriesFileAndFields(t *testing.T) {
	b := newFakeBackends(t)
	b.apiHandler = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "addVirtualSKU", r.FormValue("UpLoadFileType"))
		f, header, err := r.FormFile("templetfile")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "skus.xlsx", header.Filename)
		fmt.Fprint(w, `{"success":true,"message":"ok"}`)
	}
	d := newTestDispatcher(t, b)

	fields := url.Values{"UpLoadFileType": {"addVirtualSKU"}}
	env, err := d.SendMultipart(context.Background(), EndpointUploadStock, fields, FormFile{
		Field:   "templetfile",
		Name:    "skus.xlsx",
		Content: []byte("not really a workbook"),
	})
	require.NoError(t, err)
	assert.True(t, env.Success)
}
