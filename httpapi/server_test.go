package httpapi_test

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/adcview/coordinator"
	"github.com/temoto/adcview/httpapi"
	"github.com/temoto/adcview/log2"
	"github.com/temoto/adcview/telemetry"
)

type stubSource struct {
	view coordinator.View
	err  error
}

func (s *stubSource) Snapshot(context.Context) (coordinator.View, error) { return s.view, s.err }
func (s *stubSource) Channels() int                                      { return len(s.view.Channels) }

func newStub() *stubSource {
	return &stubSource{view: coordinator.View{
		State:     coordinator.StatePushActive,
		Mode:      telemetry.ModePush,
		PushState: telemetry.ConnOpen,
		Now:       3 * time.Second,
		Channels: [][]telemetry.Sample{
			{{Channel: 0, Timestamp: 2500 * time.Millisecond, Voltage: 1.5}, {Channel: 0, Timestamp: 3 * time.Second, Voltage: 1.6}},
			nil,
			{{Channel: 2, Timestamp: 2900 * time.Millisecond, Voltage: 0.25}},
			nil,
		},
	}}
}

func get(t testing.TB, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s := httpapi.New(log2.NewTest(t, log2.LDebug), newStub(), nil)
	rec := get(t, s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "push-active", resp["state"])
	assert.Equal(t, "push", resp["mode"])
	assert.Equal(t, "open", resp["push_state"])
	assert.Equal(t, 3.0, resp["now"])
	assert.Equal(t, []interface{}{2.0, 0.0, 1.0, 0.0}, resp["buffered"])
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s := httpapi.New(log2.NewTest(t, log2.LDebug), newStub(), nil)

	type channel struct {
		Channel int
		Samples []struct{ T, V float64 }
	}
	type response struct {
		Mode     string
		Channels []channel
	}
	cases := []struct {
		name     string
		path     string
		code     int
		channels []int
	}{
		{"all", "/api/snapshot", http.StatusOK, []int{0, 1, 2, 3}},
		{"one", "/api/snapshot?channel=2", http.StatusOK, []int{2}},
		{"out-of-range", "/api/snapshot?channel=4", http.StatusBadRequest, nil},
		{"garbage", "/api/snapshot?channel=x", http.StatusBadRequest, nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			rec := get(t, s, c.path)
			require.Equal(t, c.code, rec.Code, rec.Body.String())
			if c.code != http.StatusOK {
				return
			}
			var resp response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "push", resp.Mode)
			got := make([]int, len(resp.Channels))
			for i, ch := range resp.Channels {
				got[i] = ch.Channel
			}
			assert.Equal(t, c.channels, got)
			if c.name == "one" {
				require.Len(t, resp.Channels[0].Samples, 1)
				assert.Equal(t, 2.9, resp.Channels[0].Samples[0].T)
				assert.Equal(t, 0.25, resp.Channels[0].Samples[0].V)
			}
		})
	}
}

func TestSnapshotUnavailable(t *testing.T) {
	t.Parallel()
	stub := newStub()
	stub.err = coordinator.ErrStopped
	s := httpapi.New(log2.NewTest(t, log2.LDebug), stub, nil)
	rec := get(t, s, "/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "coordinator not running")
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := coordinator.NewMetrics(reg)
	require.NoError(t, err)
	m.PullFailures.Add(3)

	s := httpapi.New(log2.NewTest(t, log2.LDebug), newStub(), reg)
	server := httptest.NewServer(s)
	defer server.Close()
	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(b), "adcview_pull_failures_total 3"), string(b))

	assert.Equal(t, http.StatusNotFound, get(t, httpapi.New(nil, newStub(), nil), "/metrics").Code)
}
