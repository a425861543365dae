package taxjar_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tax/internal/resilience"
	"github.com/noah-isme/toko-tax/internal/taxjar"
)

func newClient(t *testing.T, handler http.HandlerFunc) (*taxjar.Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return &taxjar.Client{
		BaseURL: srv.URL + "/",
		Token:   "secret",
		Plugin:  "toko",
		HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, Timeout: 200 * time.Millisecond},
		Logger:  zerolog.Nop(),
	}, &calls
}

func TestSendPostsToTaxesEndpoint(t *testing.T) {
	client, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/taxes", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"to_country":"US"}`, string(body))
		_, _ = w.Write([]byte(`{"tax":{"rate":0.08}}`))
	})

	resp, err := client.Send(context.Background(), []byte(`{"to_country":"US"}`))
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.JSONEq(t, `{"tax":{"rate":0.08}}`, string(resp.Body))
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestSendReturnsErrorStatusesAsResponses(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Bad Request","detail":"to_zip 1 is not used within to_state NY"}`))
	})

	resp, err := client.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, resp.OK())
	require.Contains(t, string(resp.Body), "to_zip")
}

func TestSendWrapsTransportErrors(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})

	_, err := client.Send(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, taxjar.ErrTransport)
}

func TestOverrideShortCircuitsNetwork(t *testing.T) {
	client, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.Override = func(_ context.Context, body []byte) (taxjar.Response, bool) {
		return taxjar.Response{StatusCode: http.StatusOK, Body: []byte(`{"tax":{}}`)}, true
	}

	resp, err := client.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Zero(t, atomic.LoadInt32(calls))
}

func TestQuotaExhaustionIsTransportFailure(t *testing.T) {
	client, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tax":{}}`))
	})
	quota, err := taxjar.NewQuota("1-M", nil)
	require.NoError(t, err)
	client.Quota = quota

	_, err = client.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	_, err = client.Send(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, taxjar.ErrQuotaExceeded)
	require.ErrorIs(t, err, taxjar.ErrTransport)
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestNewQuotaDisabledWhenEmpty(t *testing.T) {
	quota, err := taxjar.NewQuota("", nil)
	require.NoError(t, err)
	require.Nil(t, quota)

	_, err = taxjar.NewQuota("lots", nil)
	require.Error(t, err)
}

func TestStubClientRecordsCalls(t *testing.T) {
	stub := taxjar.NewStubClient("")
	resp, err := stub.Send(context.Background(), []byte(`{"a":1}`))
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Len(t, stub.Calls(), 1)

	stub.Fail(errors.New("down"))
	_, err = stub.Send(context.Background(), []byte(`{}`))
	require.Error(t, err)
}
