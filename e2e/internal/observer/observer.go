package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	roommqtt "github.com/saaga0h/roomwatch/pkg/mqtt"
)

// Topics watched during a run: room status and service presence
var watchedTopics = map[string]byte{
	roommqtt.TopicStatusBase + "/#": 1,
	"occupancy/service/#":           1,
}

// CapturedMessage represents a single MQTT message captured during observation
type CapturedMessage struct {
	Timestamp time.Time   `json:"timestamp"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	QoS       byte        `json:"qos"`
	Retained  bool        `json:"retained"`
}

// Observer captures status traffic and keeps the latest status per room
type Observer struct {
	client    mqtt.Client
	broker    string
	logger    *log.Logger
	startTime time.Time

	mutex    sync.RWMutex
	messages []CapturedMessage
	latest   map[string]map[string]interface{}
}

// NewObserver creates a new MQTT observer
func NewObserver(broker string, logger *log.Logger) *Observer {
	if logger == nil {
		logger = log.Default()
	}

	return &Observer{
		broker: broker,
		logger: logger,
		latest: make(map[string]map[string]interface{}),
	}
}

// Start connects and subscribes. Retained status from earlier runs arrives
// immediately and is recorded like live traffic.
func (o *Observer) Start() error {
	o.startTime = time.Now()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.broker)
	opts.SetClientID(fmt.Sprintf("roomwatch-e2e-%d", o.startTime.UnixNano()))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		o.logger.Printf("Connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		o.logger.Printf("Connected to MQTT broker at %s", o.broker)
		token := client.SubscribeMultiple(watchedTopics, o.messageHandler)
		go func() {
			if token.WaitTimeout(10*time.Second) && token.Error() != nil {
				o.logger.Printf("Failed to subscribe: %v", token.Error())
			}
		}()
	})

	o.client = mqtt.NewClient(opts)
	token := o.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return nil
}

func (o *Observer) messageHandler(client mqtt.Client, msg mqtt.Message) {
	o.record(msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained())
}

func (o *Observer) record(topic string, raw []byte, qos byte, retained bool) {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = string(raw)
	}

	o.mutex.Lock()
	o.messages = append(o.messages, CapturedMessage{
		Timestamp: time.Now(),
		Topic:     topic,
		Payload:   payload,
		QoS:       qos,
		Retained:  retained,
	})
	if fields, ok := payload.(map[string]interface{}); ok {
		if b, r, err := roommqtt.ParseRoomTopic(topic); err == nil {
			o.latest[roomKey(b, r)] = fields
		}
	}
	o.mutex.Unlock()

	o.logger.Printf("[%7.2fs] %s: %s", time.Since(o.startTime).Seconds(), topic, raw)
}

// Latest returns the most recent status payload seen for a room
func (o *Observer) Latest(buildingID, roomID string) (map[string]interface{}, bool) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	fields, ok := o.latest[roomKey(buildingID, roomID)]
	return fields, ok
}

// GetAllMessages returns all captured messages
func (o *Observer) GetAllMessages() []CapturedMessage {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	messages := make([]CapturedMessage, len(o.messages))
	copy(messages, o.messages)
	return messages
}

// SaveCapture saves all captured messages to a JSON file
func (o *Observer) SaveCapture(filename string) error {
	data, err := json.MarshalIndent(o.GetAllMessages(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save capture: %w", err)
	}

	o.logger.Printf("Saved MQTT capture to %s", filename)
	return nil
}

// Stop disconnects from the MQTT broker
func (o *Observer) Stop() {
	if o.client != nil && o.client.IsConnected() {
		o.client.Disconnect(250)
		o.logger.Printf("Disconnected from MQTT broker")
	}
}

func roomKey(buildingID, roomID string) string {
	return buildingID + "/" + roomID
}
