package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/saaga0h/roomwatch/pkg/mqtt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type mockMQTT struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	handlers     map[string]mqtt.MessageHandler
	published    []published
	subscribed   chan struct{}
	disconnected bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		connected:  true,
		handlers:   make(map[string]mqtt.MessageHandler),
		subscribed: make(chan struct{}, 1),
	}
}

func (m *mockMQTT) Connect(ctx context.Context) error { return m.connectErr }

func (m *mockMQTT) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.connected = false
}

func (m *mockMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	m.handlers[topic] = handler
	m.mu.Unlock()
	m.subscribed <- struct{}{}
	return nil
}

func (m *mockMQTT) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{topic: topic, qos: qos, retained: retained, payload: payload})
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) handler(topic string) mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

func (m *mockMQTT) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m mockMessage) Topic() string   { return m.topic }
func (m mockMessage) Payload() []byte { return m.payload }
func (m mockMessage) Ack()            {}

type mockRedis struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMockRedis() *mockRedis {
	return &mockRedis{
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (m *mockRedis) SetHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = toString(v)
	}
	m.ttls[key] = ttl
	return nil
}

func (m *mockRedis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *mockRedis) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var keys []string
	for k := range m.hashes {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *mockRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.hashes, k)
	}
	return nil
}

func (m *mockRedis) Ping(ctx context.Context) error { return m.err }
func (m *mockRedis) Close() error                   { return nil }

var errRedisDown = errors.New("redis down")

// toString mirrors how go-redis encodes HSET values
func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
