package push_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/adcview/transport/push"
)

func TestParseFrame(t *testing.T) {
	t.Parallel()
	const now = 1500 * time.Millisecond
	cases := []struct {
		name      string
		input     string
		ok        bool
		channel   int
		voltage   float64
		malformed bool
	}{
		{"data", `{"type":"data","channel":0,"voltage":1.65}`, true, 0, 1.65, false},
		{"data-extra-fields", `{"type":"data","channel":3,"voltage":0,"ts":123}`, true, 3, 0, false},
		{"status", `{"type":"status"}`, false, 0, 0, false},
		{"connect-echo", `{"type":"connect","message":"hi"}`, false, 0, 0, false},
		{"no-type", `{"channel":1,"voltage":2}`, false, 0, 0, true},
		{"no-voltage", `{"type":"data","channel":1}`, false, 0, 0, true},
		{"float-channel", `{"type":"data","channel":1.5,"voltage":2}`, false, 0, 0, true},
		{"garbage", `not json`, false, 0, 0, true},
		{"null", `null`, false, 0, 0, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			s, ok, err := push.ParseFrame([]byte(c.input), now)
			if c.malformed {
				require.Error(t, err)
				assert.True(t, push.IsMalformed(err), "err=%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.ok, ok)
			if ok {
				assert.Equal(t, c.channel, s.Channel)
				assert.Equal(t, c.voltage, s.Voltage)
				assert.Equal(t, now, s.Timestamp)
			}
		})
	}
}

func TestHelloFrame(t *testing.T) {
	t.Parallel()
	var m map[string]string
	require.NoError(t, json.Unmarshal(push.HelloFrame("adcview connected"), &m))
	assert.Equal(t, map[string]string{"type": "connect", "message": "adcview connected"}, m)
}
