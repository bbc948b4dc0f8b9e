package services_test

import (
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/locahq/loca-agent/internal/coordinator"
	"github.com/locahq/loca-agent/pkg/loca"
	"github.com/stretchr/testify/mock"
)

// MockToken is a mock implementation of the paho Token interface.
type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

// newOKToken returns a token that reports a completed, successful publish.
func newOKToken() *MockToken {
	token := &MockToken{}
	token.On("Wait").Return(true)
	token.On("Error").Return(nil)
	return token
}

// MockMQTTClient is a mock implementation of the MQTTClient interface that
// records published payloads per topic.
type MockMQTTClient struct {
	mock.Mock

	mu        sync.Mutex
	published map[string][][]byte
}

func (m *MockMQTTClient) Connect() mqttLib.Token {
	args := m.Called()
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token {
	m.mu.Lock()
	if m.published == nil {
		m.published = make(map[string][][]byte)
	}
	m.published[topic] = append(m.published[topic], payload.([]byte))
	m.mu.Unlock()

	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

// publishCount returns how many messages were published to the topic.
func (m *MockMQTTClient) publishCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published[topic])
}

// lastPayload returns the most recent payload published to the topic.
func (m *MockMQTTClient) lastPayload(topic string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	payloads := m.published[topic]
	if len(payloads) == 0 {
		return nil
	}
	return payloads[len(payloads)-1]
}

// fakeStateSource hands out snapshots and update notifications under test
// control, standing in for the coordinator.
type fakeStateSource struct {
	mu       sync.Mutex
	snapshot *coordinator.Snapshot
	updates  chan struct{}
}

func newFakeStateSource() *fakeStateSource {
	return &fakeStateSource{
		snapshot: &coordinator.Snapshot{Devices: map[string]loca.AssetRecord{}},
		updates:  make(chan struct{}, 1),
	}
}

func (f *fakeStateSource) Snapshot() *coordinator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeStateSource) LastUpdateSuccess() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot.Counter
}

func (f *fakeStateSource) Updates() <-chan struct{} {
	return f.updates
}

func (f *fakeStateSource) publish(devices map[string]loca.AssetRecord) {
	f.mu.Lock()
	f.snapshot = &coordinator.Snapshot{
		Devices:   devices,
		Counter:   f.snapshot.Counter + 1,
		FetchedAt: time.Now().UTC(),
	}
	f.mu.Unlock()
	f.updates <- struct{}{}
}
