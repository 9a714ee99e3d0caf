package emitter

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

	"github.com/e7canasta/reelcore/internal/config"
	"github.com/e7canasta/reelcore/modules/coordinator"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(p.err)
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("instance_id: feed-01\nmqtt: {broker: tcp://localhost:1883}\n"))
	require.NoError(t, err)
	return cfg
}

func newTestEmitter(t *testing.T) (*MQTTEmitter, *fakePublisher) {
	e := NewMQTTEmitter(testConfig(t), nil)
	pub := &fakePublisher{}
	e.pub = pub
	e.setConnected(true)
	e.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	return e, pub
}

// drain runs the publisher loop until the queue is empty.
func drain(e *MQTTEmitter) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx)
}

func TestItemTransitionPublishesView(t *testing.T) {
	e, pub := newTestEmitter(t)

	e.ItemTransition(coordinator.Transition{
		ID:   "A",
		From: coordinator.PhaseAttached,
		To:   coordinator.PhaseActive,
		View: coordinator.ItemView{ID: "A", Index: 3, Phase: coordinator.PhaseActive, ShouldPlay: true, Seq: 2},
	})
	drain(e)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "reel/state/feed-01/A", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)

	var got ItemMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "A", got.ID)
	assert.Equal(t, 3, got.Index)
	assert.Equal(t, coordinator.PhaseActive, got.Phase)
	assert.True(t, got.ShouldPlay)
	assert.Equal(t, "attached", got.From)

	assert.Equal(t, uint64(1), e.Stats().Published["reel/state/feed-01/A"])
}

func TestGlobalChangedPublishesOnGlobalTopic(t *testing.T) {
	e, pub := newTestEmitter(t)

	e.GlobalChanged(coordinator.GlobalEvent{ProcessActive: false, HostFocused: true, TraceID: "t-1"})
	drain(e)

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "reel/state/feed-01/global", msgs[0].topic)

	var got coordinator.GlobalEvent
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.False(t, got.SystemReady)
	assert.Equal(t, "t-1", got.TraceID)
}

func TestPublishOrderIsPreserved(t *testing.T) {
	e, pub := newTestEmitter(t)

	for _, phase := range []coordinator.Phase{coordinator.PhaseAttached, coordinator.PhaseActive, coordinator.PhasePaused} {
		e.ItemTransition(coordinator.Transition{ID: "A", To: phase, View: coordinator.ItemView{ID: "A", Phase: phase}})
	}
	drain(e)

	var phases []coordinator.Phase
	for _, m := range pub.messages() {
		var got ItemMessage
		require.NoError(t, json.Unmarshal(m.payload, &got))
		phases = append(phases, got.Phase)
	}
	assert.Equal(t, []coordinator.Phase{coordinator.PhaseAttached, coordinator.PhaseActive, coordinator.PhasePaused}, phases)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	e, pub := newTestEmitter(t)

	for i := 0; i < DefaultQueueSize+10; i++ {
		e.GlobalChanged(coordinator.GlobalEvent{SystemReady: i%2 == 0})
	}

	st := e.Stats()
	assert.Equal(t, uint64(10), st.Dropped)
	assert.Equal(t, DefaultQueueSize, st.Queued)

	drain(e)
	assert.Len(t, pub.messages(), DefaultQueueSize)
}

func TestDisconnectedAndFailedPublishesCountErrors(t *testing.T) {
	e, pub := newTestEmitter(t)

	e.setConnected(false)
	e.GlobalChanged(coordinator.GlobalEvent{})
	drain(e)
	assert.Empty(t, pub.messages())
	assert.Equal(t, uint64(1), e.Stats().Errors)
	assert.Error(t, e.PublishHealth([]byte("{}")))

	e.setConnected(true)
	pub.err = errors.New("broker refused")
	e.GlobalChanged(coordinator.GlobalEvent{})
	drain(e)
	assert.Equal(t, uint64(2), e.Stats().Errors)
}

func TestPublishHealth(t *testing.T) {
	e, pub := newTestEmitter(t)

	require.NoError(t, e.PublishHealth([]byte(`{"status":"healthy"}`)))

	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "reel/health/feed-01", msgs[0].topic)
	assert.Equal(t, byte(0), msgs[0].qos)
}
