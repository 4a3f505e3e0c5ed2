package push

import (
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/adcview/telemetry"
)

const (
	FrameTypeData    = "data"
	FrameTypeConnect = "connect"
)

type frame struct {
	Type    string   `json:"type"`
	Channel *int     `json:"channel,omitempty"`
	Voltage *float64 `json:"voltage,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ParseFrame decodes inbound frame received at session time now.
// Returns ok=false for well formed frames of other types.
// Structure errors satisfy IsMalformed.
func ParseFrame(b []byte, now time.Duration) (s telemetry.Sample, ok bool, err error) {
	var f frame
	if err = json.Unmarshal(b, &f); err != nil {
		return s, false, errors.NewNotValid(err, "malformed frame")
	}
	switch f.Type {
	case "":
		return s, false, errors.NotValidf("frame without type")
	case FrameTypeData:
	default:
		return s, false, nil
	}
	if f.Channel == nil || f.Voltage == nil {
		return s, false, errors.NotValidf("data frame without channel or voltage")
	}
	s = telemetry.Sample{Channel: *f.Channel, Timestamp: now, Voltage: *f.Voltage}
	return s, true, nil
}

// HelloFrame is sent by client once connection is open.
func HelloFrame(message string) []byte {
	b, err := json.Marshal(frame{Type: FrameTypeConnect, Message: message})
	if err != nil {
		panic("code error HelloFrame marshal err=" + err.Error())
	}
	return b
}

// IsMalformed reports whether err came from ParseFrame structure check.
func IsMalformed(err error) bool { return errors.IsNotValid(err) }
