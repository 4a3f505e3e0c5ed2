package telemetry

// Values are read and modified atomically, but not consistently,
// i.e. it is possible to read Frames=1 Bytes=0 because Bytes has not updated yet.

import (
	"expvar"
	"fmt"
)

// TransportStat counts what a transport received.
// Push: Frames=websocket messages. Pull: Frames=successful responses.
type TransportStat struct {
	Frames    expvar.Int
	Bytes     expvar.Int
	Samples   expvar.Int
	Malformed expvar.Int
	Ignored   expvar.Int
	Errors    expvar.Int
}

func (s *TransportStat) Value() (r TransportStat) {
	r.Frames.Set(s.Frames.Value())
	r.Bytes.Set(s.Bytes.Value())
	r.Samples.Set(s.Samples.Value())
	r.Malformed.Set(s.Malformed.Value())
	r.Ignored.Set(s.Ignored.Value())
	r.Errors.Set(s.Errors.Value())
	return
}

func (s *TransportStat) String() string {
	return fmt.Sprintf(`{"frames":%d,"bytes":%d,"samples":%d,"malformed":%d,"ignored":%d,"errors":%d}`,
		s.Frames.Value(), s.Bytes.Value(), s.Samples.Value(),
		s.Malformed.Value(), s.Ignored.Value(), s.Errors.Value())
}
