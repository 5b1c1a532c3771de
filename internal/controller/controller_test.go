package controller

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/hwlink"
	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/perception"
	"github.com/banshee-data/junction/internal/state"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

var epoch = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

var noDetections = perception.DetectorFunc(func(_ context.Context, batch []perception.Input) ([][]perception.Detection, error) {
	return make([][]perception.Detection, len(batch)), nil
})

type stillSource struct{ img image.Image }

func (s stillSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.img, nil
}
func (stillSource) Close() error { return nil }

func newTestController(t *testing.T, deps Deps) (*Controller, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	deps.Clock = clock
	if deps.Detector == nil {
		deps.Detector = noDetections
	}
	c, err := New(config.Empty(), deps)
	require.NoError(t, err)
	return c, clock
}

func TestNewBuildsPipeline(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	img.Set(1, 1, color.White)
	open := func(context.Context) (capture.Source, error) { return stillSource{img}, nil }

	c, _ := newTestController(t, Deps{
		Sources: map[traffic.Direction]SourceSpec{
			traffic.North: {Open: open},
			traffic.West:  {Open: open, Pace: 40 * time.Millisecond},
		},
		Initial: traffic.South,
	})

	assert.Len(t, c.Workers, 2)
	assert.Equal(t, traffic.West, c.Workers[1].Direction)
	assert.Equal(t, 40*time.Millisecond, c.Workers[1].Pace)

	st := c.Scheduler.Status()
	assert.Equal(t, traffic.GreenPhase, st.State)
	assert.Equal(t, traffic.South, st.Current)
	assert.Equal(t, traffic.South, c.Store.Snapshot().CurrentGreen)
	assert.NotNil(t, c.Config().FrameWidth)
}

func TestNewRequiresDetector(t *testing.T) {
	_, err := New(config.Empty(), Deps{Clock: timeutil.NewMockClock(epoch)})
	assert.Error(t, err)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	cfg := config.Empty()
	bad := "fifo"
	cfg.TimingPolicy = &bad
	_, err := New(cfg, Deps{Clock: timeutil.NewMockClock(epoch), Detector: noDetections})
	assert.Error(t, err)
}

func TestStepDrainsOneCommandPerTick(t *testing.T) {
	c, _ := newTestController(t, Deps{})

	_, err := c.Submit("force_east")
	require.NoError(t, err)
	_, err = c.Submit("stop_all")
	require.NoError(t, err)

	st := c.Step()
	assert.Equal(t, traffic.Manual, st.Mode)
	assert.Equal(t, traffic.RedPhase, st.State)
	assert.False(t, st.Hold)
	assert.Equal(t, 1, c.Commands.Len())
	assert.ErrorIs(t, c.LampTest(traffic.East, traffic.Green), ErrNotInSafetyHold)

	st = c.Step()
	assert.True(t, st.Hold)
	assert.Equal(t, 0, c.Commands.Len())
	require.NoError(t, c.LampTest(traffic.East, traffic.Green))
}

func TestSubmitRejectsUnknownCommand(t *testing.T) {
	c, _ := newTestController(t, Deps{})
	_, err := c.Submit("force_up")
	assert.ErrorIs(t, err, traffic.ErrInvalidCommand)
	assert.Equal(t, 0, c.Commands.Len())
}

func TestStepPublishesViolation(t *testing.T) {
	c, _ := newTestController(t, Deps{})
	c.Store.Update(state.Observation{At: epoch, ROICounts: [4]int{0, 1, 0, 0}})

	st := c.Step()
	assert.Equal(t, traffic.Green, st.Signals.Get(traffic.North))
	assert.Equal(t, int64(1), c.Events.Stats().Queued)

	r := c.Report()
	require.NotNil(t, r.LastViolation)
	assert.Equal(t, traffic.East, r.LastViolation.Direction)
	assert.Empty(t, r.LastViolation.Snapshot)
}

func TestStepPublishesEmergency(t *testing.T) {
	c, _ := newTestController(t, Deps{})
	c.Store.Update(state.Observation{At: epoch, Emergency: [4]bool{false, false, true, false}})

	st := c.Step()
	assert.Equal(t, traffic.Emergency, st.Mode)
	assert.True(t, st.Emergency.Active)
	assert.Equal(t, traffic.South, st.Emergency.Direction)
	assert.Equal(t, int64(1), c.Events.Stats().Queued)
}

func TestStepOffersSignalsToHardware(t *testing.T) {
	port := hwlink.NewTestablePort()
	opener := &hwlink.MockOpener{Ports: []*hwlink.TestablePort{port}}
	c, _ := newTestController(t, Deps{Link: hwlink.NewLink(opener.Open, timeutil.NewMockClock(epoch), 0)})

	c.Step()
	c.Emitter.Flush()
	assert.Equal(t, "<1001,2100,3100,4100>\n", port.Written())
	assert.Equal(t, int64(1), c.Emitter.Stats().Sent)
}

func TestSafeStepRecoversPanic(t *testing.T) {
	c, _ := newTestController(t, Deps{})
	assembler := c.Assembler
	c.Assembler = nil

	_, err := c.SafeStep()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	c.Assembler = assembler
	_, err = c.SafeStep()
	require.NoError(t, err, "the next tick runs normally")

	counters := c.Report().Counters
	assert.Equal(t, int64(1), counters.TickPanics)
	assert.Equal(t, int64(2), counters.Ticks)
}

func TestReportJSON(t *testing.T) {
	c, _ := newTestController(t, Deps{})
	c.Step()

	b, err := json.Marshal(c.Report())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "AUTO", doc["mode"])
	assert.Equal(t, "GREEN_PHASE", doc["state"])
	assert.Equal(t, "north", doc["current_green"])
	assert.Contains(t, doc, "hardware")
	assert.Equal(t, float64(1), doc["counters"].(map[string]any)["ticks"])
}

func TestRunStopsOnCancel(t *testing.T) {
	c, clock := newTestController(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(c.controlInterval)
		return c.Report().Counters.Ticks > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
