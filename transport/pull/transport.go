// Package pull is the request/response transport: fetch latest readings over HTTP.
// Stateless between calls, safe for sequential use from coordinator loop.
package pull

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/adcview/log2"
	"github.com/temoto/adcview/telemetry"
)

const (
	DefaultTimeout = 2 * time.Second
	DefaultPath    = "/api/data/latest"
	maxBodySize    = 64 << 10

	channelKeyPrefix = "channel"
)

type Options struct {
	Log     *log2.Log
	URL     string // http://host:port/api/data/latest
	Timeout time.Duration
	// Nil means http.DefaultTransport.
	RoundTripper http.RoundTripper
}

type Transport struct {
	opt    Options
	client http.Client
	stat   telemetry.TransportStat
}

func New(opt Options) (*Transport, error) {
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "config error pull url=%s", opt.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NotValidf("pull url=%s scheme=%s", opt.URL, u.Scheme)
	}
	if opt.Timeout == 0 {
		opt.Timeout = DefaultTimeout
	}
	t := &Transport{opt: opt}
	t.client.Timeout = opt.Timeout
	t.client.Transport = opt.RoundTripper
	return t, nil
}

func (t *Transport) Stat() *telemetry.TransportStat { return &t.stat }

type adcReading struct {
	Voltage *float64 `json:"voltage"`
}

type latestResponse struct {
	ADC map[string]*adcReading `json:"adc"`
}

// FetchLatest returns voltage per channel id. Channels absent in response are absent in result.
// Channel ids are not checked against configured channels, that is coordinator's job.
// Any network, status or decoding problem is returned as error, result is nil then.
func (t *Transport) FetchLatest(ctx context.Context) (map[int]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opt.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opt.URL, nil)
	if err != nil {
		return nil, t.failure(errors.Annotate(err, "pull request"))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.failure(errors.Annotatef(err, "pull url=%s", t.opt.URL))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, t.failure(errors.Errorf("pull url=%s status=%s", t.opt.URL, resp.Status))
	}
	b, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, t.failure(errors.Annotate(err, "pull read body"))
	}
	t.stat.Frames.Add(1)
	t.stat.Bytes.Add(int64(len(b)))

	result, err := t.decode(b)
	if err != nil {
		t.stat.Malformed.Add(1)
		return nil, t.failure(err)
	}
	t.stat.Samples.Add(int64(len(result)))
	return result, nil
}

func (t *Transport) decode(b []byte) (map[int]float64, error) {
	var r latestResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.NewNotValid(err, "pull response")
	}
	if r.ADC == nil {
		return nil, errors.NotValidf("pull response without adc")
	}
	result := make(map[int]float64, len(r.ADC))
	for key, reading := range r.ADC {
		ch, ok := parseChannelKey(key)
		if !ok {
			t.stat.Ignored.Add(1)
			t.opt.Log.Debugf("pull ignore key=%s", key)
			continue
		}
		if reading == nil || reading.Voltage == nil {
			t.stat.Ignored.Add(1)
			continue
		}
		result[ch] = *reading.Voltage
	}
	return result, nil
}

func (t *Transport) failure(err error) error {
	t.stat.Errors.Add(1)
	t.opt.Log.Debugf("%v", err)
	return err
}

// "channel3" -> 3
// parseChannelKey accepts exactly "channel<N>", N decimal without sign or leading zero.
func parseChannelKey(key string) (int, bool) {
	if !strings.HasPrefix(key, channelKeyPrefix) {
		return 0, false
	}
	digits := key[len(channelKeyPrefix):]
	if digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
