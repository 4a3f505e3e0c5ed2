// Package config reads adcview HCL configuration with includes.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/adcview/helpers"
	"github.com/temoto/adcview/log2"
)

const (
	DefaultHost       = "192.168.86.100"
	DefaultPort       = 80
	DefaultPushPath   = "/ws"
	DefaultLatestPath = "/api/data/latest"
	DefaultChannels   = 4
	MaxChannels       = 64
	DefaultHello      = "adcview connected"
	DefaultTopic      = "adc"
)

type Config struct {
	includeSeen map[string]struct{}
	XXX_Include []Source `hcl:"include"`

	Device struct {
		Host       string `hcl:"host"`
		Port       int    `hcl:"port"`
		PushPath   string `hcl:"push_path"`
		LatestPath string `hcl:"latest_path"`
	} `hcl:"device"`
	Channels int `hcl:"channels"`
	WindowMs int `hcl:"window_ms"`
	TickMs   int `hcl:"tick_ms"`

	Push struct {
		ConnectTimeoutMs int    `hcl:"connect_timeout_ms"`
		DegradedAfterMs  int    `hcl:"degraded_after_ms"`
		DeadAfterMs      int    `hcl:"dead_after_ms"`
		Hello            string `hcl:"hello"`
		QueueSize        int    `hcl:"queue_size"`
	} `hcl:"push"`
	Pull struct {
		TimeoutMs    int `hcl:"timeout_ms"`
		BackoffMaxMs int `hcl:"backoff_max_ms"`
	} `hcl:"pull"`
	Log struct {
		Level string `hcl:"level"`
	} `hcl:"log"`
	HTTP struct {
		Listen string `hcl:"listen"`
	} `hcl:"http"`
	Forward struct {
		Enable      bool   `hcl:"enable"`
		MqttBroker  string `hcl:"mqtt_broker"`
		TopicPrefix string `hcl:"topic_prefix"`
		ClientID    string `hcl:"client_id"`
		Qos         int    `hcl:"qos"`
		LogDebug    bool   `hcl:"log_debug"`
	} `hcl:"forward"`
	ReportSec int `hcl:"report_sec"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) PushURL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(c.Device.Host, strconv.Itoa(c.Device.Port)), c.Device.PushPath)
}
func (c *Config) PullURL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(c.Device.Host, strconv.Itoa(c.Device.Port)), c.Device.LatestPath)
}

func (c *Config) Window() time.Duration { return helpers.MillisDefault(c.WindowMs, 10*time.Second) }
func (c *Config) Tick() time.Duration   { return helpers.MillisDefault(c.TickMs, 100*time.Millisecond) }
func (c *Config) ConnectTimeout() time.Duration {
	return helpers.MillisDefault(c.Push.ConnectTimeoutMs, 8*time.Second)
}
func (c *Config) DegradedAfter() time.Duration {
	return helpers.MillisDefault(c.Push.DegradedAfterMs, 2*time.Second)
}
func (c *Config) DeadAfter() time.Duration { return helpers.MillisDefault(c.Push.DeadAfterMs, 0) }
func (c *Config) PullTimeout() time.Duration {
	return helpers.MillisDefault(c.Pull.TimeoutMs, 2*time.Second)
}
func (c *Config) BackoffMax() time.Duration {
	return helpers.MillisDefault(c.Pull.BackoffMaxMs, 5*time.Second)
}
func (c *Config) ReportInterval() time.Duration {
	return helpers.IntSecondDefault(c.ReportSec, 5*time.Second)
}

// Defaults fills zero values.
func (c *Config) Defaults() {
	if c.Device.Host == "" {
		c.Device.Host = DefaultHost
	}
	if c.Device.Port == 0 {
		c.Device.Port = DefaultPort
	}
	if c.Device.PushPath == "" {
		c.Device.PushPath = DefaultPushPath
	}
	if c.Device.LatestPath == "" {
		c.Device.LatestPath = DefaultLatestPath
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.Push.Hello == "" {
		c.Push.Hello = DefaultHello
	}
	if c.Push.QueueSize == 0 {
		c.Push.QueueSize = 4096
	}
	if c.Forward.TopicPrefix == "" {
		c.Forward.TopicPrefix = DefaultTopic
	}
}

func (c *Config) Validate() error {
	errs := make([]error, 0)
	if c.Device.Host == "" {
		errs = append(errs, errors.NotValidf("device.host empty"))
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		errs = append(errs, errors.NotValidf("device.port=%d", c.Device.Port))
	}
	if c.Channels < 1 || c.Channels > MaxChannels {
		errs = append(errs, errors.NotValidf("channels=%d (1..%d)", c.Channels, MaxChannels))
	}
	for _, x := range []struct {
		name string
		v    int
	}{
		{"window_ms", c.WindowMs},
		{"tick_ms", c.TickMs},
		{"push.connect_timeout_ms", c.Push.ConnectTimeoutMs},
		{"push.degraded_after_ms", c.Push.DegradedAfterMs},
		{"push.dead_after_ms", c.Push.DeadAfterMs},
		{"push.queue_size", c.Push.QueueSize},
		{"pull.timeout_ms", c.Pull.TimeoutMs},
		{"pull.backoff_max_ms", c.Pull.BackoffMaxMs},
		{"report_sec", c.ReportSec},
	} {
		if x.v < 0 {
			errs = append(errs, errors.NotValidf("%s=%d", x.name, x.v))
		}
	}
	if _, err := log2.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Forward.Enable {
		if c.Forward.MqttBroker == "" {
			errs = append(errs, errors.NotValidf("forward.mqtt_broker empty"))
		}
		if c.Forward.Qos < 0 || c.Forward.Qos > 2 {
			errs = append(errs, errors.NotValidf("forward.qos=%d", c.Forward.Qos))
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read parses sources in order, later values overwrite earlier.
// Result has defaults applied but is not validated.
func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	if osfs, ok := fs.(*OsFullReader); ok && len(names) != 0 {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	c.Defaults()
	return c, helpers.FoldErrors(errs)
}

// Default returns config without any sources.
func Default() *Config {
	c := &Config{}
	c.Defaults()
	return c
}
