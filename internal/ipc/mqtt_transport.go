package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/inputemu-core/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the transport needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTTransport maps channels onto MQTT topics. Channel names are used as
// topics verbatim. Messages are never retained.
type MQTTTransport struct {
	client MQTTClient
	qos    byte
	depth  int
}

// NewMQTTTransport creates a transport over an already connected client.
func NewMQTTTransport(client MQTTClient, qos byte) *MQTTTransport {
	return &MQTTTransport{client: client, qos: qos, depth: defaultQueueDepth}
}

// OpenSender implements Transport. MQTT has no notion of a missing
// receiver, so opening never fails.
func (t *MQTTTransport) OpenSender(name string) (Sender, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %w", ErrConnection, mqtt.ErrInvalidTopic)
	}
	return &mqttSender{t: t, topic: name}, nil
}

// OpenReceiver implements Transport by subscribing to the topic.
func (t *MQTTTransport) OpenReceiver(name string) (Receiver, error) {
	r := &mqttReceiver{
		t:      t,
		topic:  name,
		frames: make(chan []byte, t.depth),
		done:   make(chan struct{}),
	}
	if err := t.client.Subscribe(name, t.qos, r.handle); err != nil {
		return nil, fmt.Errorf("%w: subscribing to %q: %w", ErrConnection, name, err)
	}
	return r, nil
}

type mqttSender struct {
	t     *MQTTTransport
	topic string
}

func (s *mqttSender) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.t.client.Publish(s.topic, frame, s.t.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return nil
}

func (s *mqttSender) Close() error { return nil }

type mqttReceiver struct {
	t      *MQTTTransport
	topic  string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// handle runs on the MQTT client's goroutine. A full queue applies
// backpressure to the broker connection until the reader catches up.
func (r *mqttReceiver) handle(_ string, payload []byte) error {
	buf := append([]byte(nil), payload...)
	select {
	case r.frames <- buf:
		return nil
	case <-r.done:
		return fmt.Errorf("%w: receiver for %q closed", ErrConnection, r.topic)
	}
}

func (r *mqttReceiver) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-r.frames:
		return frame, nil
	case <-r.done:
		return nil, fmt.Errorf("%w: receiver for %q closed", ErrConnection, r.topic)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain returns the frames still queued without blocking.
func (r *mqttReceiver) Drain() [][]byte {
	var frames [][]byte
	for {
		select {
		case frame := <-r.frames:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func (r *mqttReceiver) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		err = r.t.client.Unsubscribe(r.topic)
	})
	return err
}
