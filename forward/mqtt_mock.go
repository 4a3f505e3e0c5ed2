package forward

import (
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// MqttMock is in-memory mqtt.Client recording published messages.
type MqttMock struct {
	Opt *mqtt.ClientOptions
	Pub chan MockMsg

	// ConnectErr is returned by Connect tokens.
	ConnectErr error
	connected  uint32
	mu         sync.Mutex
	connects   int
}

var _ mqtt.Client = &MqttMock{}

func NewMqttMock() *MqttMock {
	return &MqttMock{
		Pub: make(chan MockMsg, 32),
	}
}

// MockNew fits Options.NewClient.
func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.Opt = opt
	return self
}

func (self *MqttMock) SetConnected(c bool) {
	v := uint32(0)
	if c {
		v = 1
	}
	atomic.StoreUint32(&self.connected, v)
}

func (self *MqttMock) Connects() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connects
}

func (self *MqttMock) Disconnect(uint)        { self.SetConnected(false) }
func (self *MqttMock) IsConnected() bool      { return atomic.LoadUint32(&self.connected) == 1 }
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	self.mu.Lock()
	self.connects++
	err := self.ConnectErr
	self.mu.Unlock()
	if err == nil {
		self.SetConnected(true)
	}
	return mockToken{err}
}

func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	default:
		return mockToken{errors.NotSupportedf("payload type %T", payload)}
	}
	select {
	case self.Pub <- MockMsg{T: topic, P: b, Q: qos}:
		return mockToken{nil}
	default:
		return mockToken{errors.Timeoutf("mock publish buffer full")}
	}
}

func (self *MqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) AddRoute(string, mqtt.MessageHandler) { panic("not implemented") }
func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader {
	panic("not implemented")
}
func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token { panic("not implemented") }

type mockToken struct{ error }

func (tok mockToken) Error() error { return tok.error }
func (tok mockToken) Wait() bool   { return !errors.IsTimeout(tok.error) }
func (tok mockToken) WaitTimeout(time.Duration) bool {
	return !errors.IsTimeout(tok.error)
}

type MockMsg struct {
	T string
	P []byte
	Q byte
}
