package state

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/adcview/config"
	"github.com/temoto/adcview/coordinator"
	"github.com/temoto/adcview/forward"
	"github.com/temoto/adcview/log2"
)

// Device without websocket endpoint, session must fall back to pull.
func TestRunPullFallback(t *testing.T) {
	t.Parallel()
	device := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != config.DefaultLatestPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"adc":{"channel0":{"voltage":1.5},"channel1":{"voltage":0.3}}}`))
	}))
	defer device.Close()
	host, portString, err := net.SplitHostPort(strings.TrimPrefix(device.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portString)
	require.NoError(t, err)

	fs := config.NewMockFullReader(map[string]string{"main": `
channels = 2
tick_ms = 10
http { listen = "127.0.0.1:0" }
forward { enable = true mqtt_broker = "tcp://mock:1883" }
`})
	log := log2.NewTest(t, log2.LDebug)
	cfg, err := config.Read(log, fs, "main")
	require.NoError(t, err)
	cfg.Device.Host = host
	cfg.Device.Port = port

	ctx, g := NewContext(log)
	mock := forward.NewMqttMock()
	g.XXX_forwardOptions = func(o *forward.Options) { o.NewClient = mock.MockNew }
	require.NoError(t, g.Init(ctx, cfg))
	assert.Equal(t, g, GetGlobal(ctx))

	errch := make(chan error, 1)
	go func() { errch <- g.Run(ctx) }()

	select {
	case msg := <-mock.Pub:
		assert.True(t, strings.HasPrefix(msg.T, "adc/channel"), msg.T)
		var m forward.Message
		require.NoError(t, json.Unmarshal(msg.P, &m))
		assert.Equal(t, "pull", m.Mode)
		assert.Equal(t, g.Forward.Session(), m.Session)
	case <-time.After(5 * time.Second):
		t.Fatal("no forwarded sample")
	}

	v, err := g.Coordinator.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.StatePollingFallback, v.State)
	assert.NotEmpty(t, v.Channel(0))
	assert.Contains(t, g.Report.Format(v), "ADC1 0.300V")

	require.Eventually(t, func() bool { return g.HTTPAddr() != nil }, time.Second, time.Millisecond)
	resp, err := http.Get("http://" + g.HTTPAddr().String() + "/api/status")
	require.NoError(t, err)
	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "polling-fallback", status["state"])
	assert.Equal(t, "pull", status["mode"])

	g.Stop()
	select {
	case err = <-errch:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	g.Push.Wait()
}

func TestInitInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Channels = 0
	ctx, g := NewContext(log2.NewTest(t, log2.LDebug))
	err := g.Init(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channels=0")
}

func TestInitPushAttemptWindow(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		ms     int
		expect time.Duration
	}{
		{"default", 0, 8 * time.Second},
		{"short", 500, 500 * time.Millisecond},
		{"long", 12000, 12 * time.Second},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Push.ConnectTimeoutMs = c.ms
			ctx, g := NewContext(log2.NewTest(t, log2.LDebug))
			require.NoError(t, g.Init(ctx, cfg))
			assert.Equal(t, c.expect, g.Push.Options().HandshakeTimeout)
			assert.Equal(t, cfg.ConnectTimeout(), g.Push.Options().HandshakeTimeout)
		})
	}
}
