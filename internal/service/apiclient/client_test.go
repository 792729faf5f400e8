package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/config"
)

type mockHTTPClient struct {
	mock.Mock
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Backoff: NoBackoff, Retryable: RetryServerErrors, AttemptTimeout: 5 * time.Second}
}

func TestLinearBackoff(t *testing.T) {
	step := LinearBackoff(time.Second)
	assert.Equal(t, time.Second, step(1))
	assert.Equal(t, 2*time.Second, step(2))
	assert.Equal(t, 3*time.Second, step(3))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.HTTPConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Timeout: time.Minute})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, time.Minute, p.AttemptTimeout)

	d := PolicyFromConfig(config.HTTPConfig{})
	assert.Equal(t, 3, d.MaxAttempts)
	assert.True(t, d.Retryable(503))
	assert.False(t, d.Retryable(404))
}

func TestClient_Call_AlwaysUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"error":"busy %d"}`, n)
	}))
	defer srv.Close()

	client := NewClient("test", srv.Client(), fastPolicy(3))
	resp, err := client.Call(context.Background(), &Request{URL: srv.URL})

	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())

	var apiErr *apperr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, `{"error":"busy 3"}`, apiErr.Body)

	require.NotNil(t, resp)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, `{"error":"busy 3"}`, string(resp.Body))
}

func TestClient_Call_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient permissions"}}`))
	}))
	defer srv.Close()

	client := NewClient("test", srv.Client(), fastPolicy(3))
	resp, err := client.Call(context.Background(), &Request{URL: srv.URL})

	assert.Equal(t, int32(1), hits.Load())
	var apiErr *apperr.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.True(t, apperr.IsRejected(err))
	require.NotNil(t, resp)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "insufficient permissions", DecodeError(resp.Body))
}

func TestClient_Call_RecoversAfterServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient("test", srv.Client(), fastPolicy(3))

	var out struct {
		OK bool `json:"ok"`
	}
	resp, err := client.CallJSON(context.Background(), &Request{URL: srv.URL}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 2, resp.Attempts)
}

func TestClient_Call_NetworkErrorRetried(t *testing.T) {
	httpClient := new(mockHTTPClient)
	httpClient.On("Do", mock.Anything).Return(nil, errors.New("connection reset")).Twice()
	httpClient.On("Do", mock.Anything).Return(response(http.StatusOK, `{}`), nil).Once()

	client := NewClient("test", httpClient, fastPolicy(3))
	resp, err := client.Call(context.Background(), &Request{URL: "https://example.test/x"})

	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	httpClient.AssertNumberOfCalls(t, "Do", 3)
}

func TestClient_Call_NetworkErrorExhausted(t *testing.T) {
	httpClient := new(mockHTTPClient)
	httpClient.On("Do", mock.Anything).Return(nil, errors.New("no route to host"))

	client := NewClient("test", httpClient, fastPolicy(2))
	resp, err := client.Call(context.Background(), &Request{URL: "https://example.test/x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route to host")
	assert.Nil(t, resp)
	httpClient.AssertNumberOfCalls(t, "Do", 2)
}

func TestClient_Call_BuildsRequest(t *testing.T) {
	httpClient := new(mockHTTPClient)
	httpClient.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		body, _ := io.ReadAll(req.Body)
		return req.Method == http.MethodPost &&
			req.URL.Query().Get("ids") == "channel==MINE" &&
			req.URL.Query().Get("keep") == "1" &&
			req.Header.Get("Authorization") == "Bearer tok" &&
			req.Header.Get("Content-Type") == "application/x-www-form-urlencoded" &&
			string(body) == "grant_type=refresh_token"
	})).Return(response(http.StatusOK, `{}`), nil)

	client := NewClient("test", httpClient, fastPolicy(1))
	_, err := client.Call(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    "https://example.test/reports?keep=1",
		Query:  url.Values{"ids": {"channel==MINE"}},
		Form:   url.Values{"grant_type": {"refresh_token"}},
		Token:  "tok",
	})

	require.NoError(t, err)
	httpClient.AssertExpectations(t)
}

func TestClient_Call_AttemptTimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	policy := Policy{MaxAttempts: 3, Backoff: NoBackoff, Retryable: RetryServerErrors, AttemptTimeout: 50 * time.Millisecond}
	client := NewClient("test", srv.Client(), policy)

	start := time.Now()
	resp, err := client.Call(context.Background(), &Request{URL: srv.URL})

	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, 2, client.AttemptsFor(resp))
	assert.Equal(t, int32(2), hits.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_Call_AttemptTimeoutExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	policy := Policy{MaxAttempts: 2, Backoff: NoBackoff, AttemptTimeout: 50 * time.Millisecond}
	client := NewClient("test", srv.Client(), policy)

	resp, err := client.Call(context.Background(), &Request{URL: srv.URL})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 2, client.AttemptsFor(resp))
}

func TestClient_Call_ContextCancelledStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	httpClient := new(mockHTTPClient)
	httpClient.On("Do", mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil, context.Canceled)

	client := NewClient("test", httpClient, fastPolicy(5))
	_, err := client.Call(ctx, &Request{URL: "https://example.test/x"})

	assert.ErrorIs(t, err, context.Canceled)
	httpClient.AssertNumberOfCalls(t, "Do", 1)
}

func TestClient_Call_WaitsLinearBackoffOnClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTimer("apiclient", "backoff")
	defer trap.Close()

	httpClient := new(mockHTTPClient)
	httpClient.On("Do", mock.Anything).Return(response(http.StatusInternalServerError, "oops"), nil).Twice()
	httpClient.On("Do", mock.Anything).Return(response(http.StatusOK, "{}"), nil).Once()

	policy := Policy{MaxAttempts: 3, Backoff: LinearBackoff(time.Second), Retryable: RetryServerErrors}
	client := NewClient("test", httpClient, policy, WithClock(clock))

	done := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, &Request{URL: "https://example.test/x"})
		done <- err
	}()

	call := trap.MustWait(ctx)
	assert.Equal(t, time.Second, call.Duration)
	call.MustRelease(ctx)
	clock.Advance(time.Second).MustWait(ctx)

	call = trap.MustWait(ctx)
	assert.Equal(t, 2*time.Second, call.Duration)
	call.MustRelease(ctx)
	clock.Advance(2 * time.Second).MustWait(ctx)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("call did not finish")
	}
	httpClient.AssertNumberOfCalls(t, "Do", 3)
}

func TestDecodeError(t *testing.T) {
	assert.Equal(t, "bad", DecodeError([]byte(`{"error":{"message":"bad"}}`)))
	assert.Equal(t, "invalid_grant", DecodeError([]byte(`{"error":"invalid_grant"}`)))
	assert.Equal(t, "<html>gateway</html>", DecodeError([]byte("  <html>gateway</html>\n")))
}
