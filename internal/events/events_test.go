package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/junction/internal/monitoring"
)

var epoch = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	hang         bool
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(p.err, !p.hang)
}

func (p *fakePublisher) Disconnect(uint) {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestMQTTSinkPublish(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "junction/events/")

	e := Envelope{ID: "abc", Kind: KindViolation, At: epoch, Data: map[string]string{"dir": "east"}}
	require.NoError(t, sink.Publish(context.Background(), e))

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "junction/events/violation", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "violation", got["kind"])
	assert.Equal(t, "east", got["data"].(map[string]any)["dir"])
	assert.Equal(t, map[string]uint64{"junction/events/violation": 1}, sink.Published())

	require.NoError(t, sink.Close())
	assert.True(t, pub.disconnected)
}

func TestMQTTSinkErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	sink := NewMQTTSink(pub, "j")
	err := sink.Publish(context.Background(), Envelope{Kind: KindEmergency})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "j/emergency")
	assert.Empty(t, sink.Published())

	hung := NewMQTTSink(&fakePublisher{hang: true}, "j")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hung.Publish(ctx, Envelope{Kind: KindEmergency}), context.Canceled)
}

type recordingSink struct {
	mu     sync.Mutex
	got    []Envelope
	fail   bool
	closed bool
}

func (s *recordingSink) Publish(_ context.Context, e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker down")
	}
	s.got = append(s.got, e)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) envelopes() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.got...)
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Emit(KindEmergency, epoch, "north"))
	require.NoError(t, d.Emit(KindViolation, epoch, "east"))
	require.Eventually(t, func() bool { return len(sink.envelopes()) == 2 }, 2*time.Second, 5*time.Millisecond)

	got := sink.envelopes()
	assert.Equal(t, KindEmergency, got[0].Kind)
	assert.Equal(t, "east", got[1].Data)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, sink.closed)
	assert.Equal(t, DispatchStats{Queued: 2, Published: 2}, d.Stats())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(&recordingSink{}, 1)
	require.NoError(t, d.Emit(KindViolation, epoch, 1))
	assert.ErrorIs(t, d.Emit(KindViolation, epoch, 2), ErrDropped)
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

func TestDispatcherCountsFailures(t *testing.T) {
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Emit(KindEmergency, epoch, nil))
	assert.Eventually(t, func() bool { return d.Stats().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
}

type bulky struct {
	Dir string `json:"dir"`
	Img string `json:"img,omitempty"`
}

func (b bulky) Summary() any { b.Img = ""; return b }

func TestLogSinkSummarises(t *testing.T) {
	var captured []interface{}
	monitoring.SetLogger(func(format string, v ...interface{}) {
		captured = append(captured, v...)
	})
	defer monitoring.SetLogger(nil)

	s := NewLogSink()
	require.NoError(t, s.Publish(context.Background(), Envelope{ID: "x", Kind: KindViolation, Data: bulky{Dir: "west", Img: "AAAA"}}))
	require.NotEmpty(t, captured)
	body := string(captured[len(captured)-1].([]byte))
	assert.Contains(t, body, `"dir":"west"`)
	assert.NotContains(t, body, "AAAA")
	assert.NoError(t, s.Close())
}
