// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, ready ReadinessChecker) (*Server, *Metrics) {
	t.Helper()
	reg := NewRegistry()
	metrics := NewMetrics(reg)
	server := NewServer("127.0.0.1:0", reg, ready, nil)

	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, server.Stop(ctx))
	})
	return server, metrics
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server, metrics := startServer(t, nil)

	metrics.RecordLogin(ResultSuccess)
	metrics.RecordRegistration(ResultRejected)
	metrics.RecordTokenDecodeFailure("expired")
	metrics.RecordHTTPRequest(http.MethodPost, "/auth/token", http.StatusOK, 20*time.Millisecond)

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	for _, want := range []string{
		"# HELP", "go_", "process_",
		`authgate_logins_total{result="success"} 1`,
		`authgate_registrations_total{result="rejected"} 1`,
		`authgate_token_decode_failures_total{reason="expired"} 1`,
		`authgate_http_requests_total{method="POST",route="/auth/token",status="200"} 1`,
		"authgate_http_request_duration_seconds",
	} {
		assert.Contains(t, body, want)
	}
}

func TestMetrics_Counters(t *testing.T) {
	metrics := NewMetrics(NewRegistry())
	metrics.RecordLogin(ResultRejected)
	metrics.RecordLogin(ResultRejected)
	metrics.RecordLogin(ResultSuccess)

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues(ResultRejected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues(ResultSuccess)), 0)
}

func TestServer_Liveness(t *testing.T) {
	server, _ := startServer(t, func(context.Context) error { return errors.New("db down") })

	status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		drain      bool
		wantStatus int
		wantBody   string
	}{
		{"nil checker", nil, false, http.StatusOK, "ok"},
		{"ready", func(context.Context) error { return nil }, false, http.StatusOK, "ok"},
		{"not ready", func(context.Context) error { return errors.New("db down") }, false, http.StatusServiceUnavailable, "not ready"},
		{"draining", nil, true, http.StatusServiceUnavailable, "draining"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer("", NewRegistry(), tt.ready, nil)
			if tt.drain {
				server.Drain()
			}

			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server, _ := startServer(t, nil)

	_, err := server.Start()
	require.Error(t, err)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", NewRegistry(), nil, nil)
	require.NoError(t, server.Stop(context.Background()))
	assert.Empty(t, server.Addr())
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", NewRegistry(), nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	require.NoError(t, server.listener.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve error was not reported")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", NewRegistry(), nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	require.NoError(t, server.Stop(context.Background()))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed")
	}
}
