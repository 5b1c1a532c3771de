package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/junction/internal/monitoring"
)

const (
	qosAtLeastOnce = 1
	publishTimeout = 2 * time.Second
	connectTimeout = 5 * time.Second
)

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	// Topic is the prefix; events go to <Topic>/<kind>.
	Topic string
}

// MQTTSink publishes envelopes as JSON at QoS 1.
type MQTTSink struct {
	client Publisher
	topic  string
	logf   monitoring.Logger

	mu        sync.Mutex
	published map[string]uint64
}

// NewMQTTSink wraps an existing client.
func NewMQTTSink(client Publisher, topic string) *MQTTSink {
	return &MQTTSink{
		client:    client,
		topic:     strings.TrimSuffix(topic, "/"),
		logf:      monitoring.Tagged("mqtt"),
		published: make(map[string]uint64),
	}
}

// DialMQTT connects to the broker with automatic reconnection. A broker that
// is down at startup is not fatal: the client keeps retrying in the
// background and publishes fail until it is reachable.
func DialMQTT(ctx context.Context, o MQTTOptions) (*MQTTSink, error) {
	broker := o.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	logf := monitoring.Tagged("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logf("connected to %s as %s", broker, o.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logf("connection to %s lost, reconnecting: %v", broker, err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
		}
	case <-time.After(connectTimeout):
		logf("broker %s not reachable yet, continuing to retry", broker)
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	return NewMQTTSink(client, o.Topic), nil
}

// TopicFor returns the topic an event kind is published to.
func (s *MQTTSink) TopicFor(k Kind) string {
	return s.topic + "/" + string(k)
}

func (s *MQTTSink) Publish(ctx context.Context, e Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	topic := s.TopicFor(e.Kind)
	token := s.client.Publish(topic, qosAtLeastOnce, false, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish to %s: timeout", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()
	return nil
}

// Published returns per-topic publish counts.
func (s *MQTTSink) Published() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		out[k] = v
	}
	return out
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
