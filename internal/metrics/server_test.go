package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	probe := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"})
	reg.MustRegister(probe)
	probe.Add(3)

	s, err := NewServer("127.0.0.1:0", reg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "probe_total 3")

	resp, err = http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.InDelta(t, 1, testutil.ToFloat64(s.requests.WithLabelValues("/healthz", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(s.requests.WithLabelValues("/metrics", "200")), 0)
}

func TestServerStartShutdown(t *testing.T) {
	t.Parallel()

	s, err := NewServer("127.0.0.1:0", prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	addr, err := s.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestShutdownWithoutStart(t *testing.T) {
	t.Parallel()

	s, err := NewServer(":0", prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestNewServerRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewServer(":0", reg, nil)
	require.NoError(t, err)
	_, err = NewServer(":0", reg, nil)
	require.Error(t, err)

	_, err = NewServer(":0", nil, nil)
	require.Error(t, err)
}
