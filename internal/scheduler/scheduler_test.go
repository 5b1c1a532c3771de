package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/state"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

var epoch = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

var tiered = Tiered{
	Low: 10 * time.Second, Medium: 20 * time.Second, High: 30 * time.Second,
	LowTraffic: 5, MediumTraffic: 15,
	Min: 5 * time.Second, Max: 60 * time.Second,
}

var timing = Timing{
	Yellow:           4 * time.Second,
	RedHold:          2 * time.Second,
	ForecastUnit:     20 * time.Second,
	EmergencyMax:     40 * time.Second,
	EmergencyConfirm: 1,
}

type harness struct {
	t     *testing.T
	clock *timeutil.MockClock
	store *state.Store
	s     *Scheduler
}

func newHarness(t *testing.T, p Policy, tm Timing) *harness {
	clock := timeutil.NewMockClock(epoch)
	store := state.NewStore(traffic.North)
	return &harness{t: t, clock: clock, store: store, s: New(clock, store, p, tm, traffic.North)}
}

func (h *harness) tick() Status { return h.s.Tick(nil) }

func (h *harness) after(d time.Duration) Status {
	h.clock.Advance(d)
	return h.tick()
}

func (h *harness) command(s string) Status {
	cmd, err := traffic.ParseCommand(s)
	require.NoError(h.t, err)
	return h.s.Tick(&cmd)
}

func (h *harness) observe(counts [4]int, emergency ...traffic.Direction) {
	var o state.Observation
	o.Counts = counts
	for _, d := range emergency {
		o.Emergency[d] = true
	}
	h.store.Update(o)
}

func assertPhase(t *testing.T, st Status, phase traffic.PhaseState, current traffic.Direction) {
	t.Helper()
	assert.Equal(t, phase, st.State)
	assert.Equal(t, current, st.Current)
	assert.Equal(t, traffic.SignalMapFor(phase, current), st.Signals)
	assert.NoError(t, st.Signals.Validate())
}

func TestInitialState(t *testing.T) {
	h := newHarness(t, tiered, timing)
	st := h.s.Status()
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
	assert.Equal(t, traffic.Auto, st.Mode)
	assert.Equal(t, traffic.East, st.Next)
	assert.Equal(t, 20*time.Second, st.GreenDuration)
	assert.Equal(t, 20, st.Timer)
	assert.Equal(t, traffic.North, h.store.Snapshot().CurrentGreen)
}

func TestInitialGreenWithinPolicyBounds(t *testing.T) {
	tm := timing
	tm.ForecastUnit = 90 * time.Second
	h := newHarness(t, tiered, tm)
	assert.Equal(t, 60*time.Second, h.s.Status().GreenDuration)

	st := h.after(60 * time.Second)
	assertPhase(t, st, traffic.YellowPhase, traffic.North)

	tm.ForecastUnit = time.Second
	h = newHarness(t, tiered, tm)
	assert.Equal(t, 5*time.Second, h.s.Status().GreenDuration)
}

func TestAutoCycle(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.observe([4]int{0, 20, 3, 0})

	st := h.after(19 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
	assert.Equal(t, 1, st.Timer)

	st = h.after(time.Second)
	assertPhase(t, st, traffic.YellowPhase, traffic.North)
	assert.Equal(t, traffic.East, st.Next)
	assert.Equal(t, 30*time.Second, st.GreenDuration, "sized from the next approach's count")

	h.observe([4]int{0, 0, 3, 0})
	st = h.after(4 * time.Second)
	assertPhase(t, st, traffic.RedPhase, traffic.North)
	assert.Equal(t, 30*time.Second, st.GreenDuration, "fixed once computed")

	st = h.after(2 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.East)
	assert.Equal(t, traffic.East, h.store.Snapshot().CurrentGreen)

	st = h.after(30 * time.Second)
	assertPhase(t, st, traffic.YellowPhase, traffic.East)
	assert.Equal(t, traffic.South, st.Next)
	assert.Equal(t, 10*time.Second, st.GreenDuration)
}

func TestStrictRotationDoesNotSkipEmpty(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.observe([4]int{0, 0, 9, 0})

	st := h.after(20 * time.Second)
	assert.Equal(t, traffic.East, st.Next)
	assert.Equal(t, 10*time.Second, st.GreenDuration)
}

func TestProportionalSkipsEmpty(t *testing.T) {
	p := Proportional{Min: 5 * time.Second, Max: 60 * time.Second, PerVehicle: 2 * time.Second}
	h := newHarness(t, p, timing)
	h.observe([4]int{0, 0, 9, 0})

	st := h.after(20 * time.Second)
	assert.Equal(t, traffic.South, st.Next)
	assert.Equal(t, 23*time.Second, st.GreenDuration)
}

func TestTimerAndForecast(t *testing.T) {
	h := newHarness(t, tiered, timing)

	st := h.after(500 * time.Millisecond)
	assert.Equal(t, 19, st.Timer)
	assert.Equal(t, [4]int{0, 25, 51, 77}, st.WaitTimes)

	st = h.after(19500 * time.Millisecond)
	require.Equal(t, traffic.YellowPhase, st.State)
	assert.Equal(t, [4]int{84, 6, 32, 58}, st.WaitTimes)

	st = h.after(4 * time.Second)
	require.Equal(t, traffic.RedPhase, st.State)
	assert.Equal(t, [4]int{80, 2, 28, 54}, st.WaitTimes)
}

func TestForecast(t *testing.T) {
	got := Forecast(traffic.GreenPhase, traffic.West, 10*time.Second, timing)
	assert.Equal(t, [4]int{16, 42, 68, 0}, got)
}

func TestForceDirection(t *testing.T) {
	h := newHarness(t, tiered, timing)

	st := h.command("force_south")
	assertPhase(t, st, traffic.RedPhase, traffic.North)
	assert.Equal(t, traffic.Manual, st.Mode)
	assert.Equal(t, traffic.South, st.Next)
	require.Len(t, st.Events, 1)
	assert.Equal(t, CommandApplied, st.Events[0].Kind)
	assert.Equal(t, "force_south", st.Events[0].Command)

	st = h.after(2 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.South)

	st = h.after(5 * time.Minute)
	assertPhase(t, st, traffic.GreenPhase, traffic.South)

	st = h.command("auto")
	assert.Equal(t, traffic.Auto, st.Mode)
	assertPhase(t, st, traffic.YellowPhase, traffic.South)
}

func TestForceCurrentGreenKeepsIt(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.clock.Advance(5 * time.Second)

	st := h.command("FORCE_NORTH")
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
	assert.Equal(t, traffic.Manual, st.Mode)

	st = h.after(time.Minute)
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
}

func TestForceFromYellowGoesRed(t *testing.T) {
	h := newHarness(t, tiered, timing)
	st := h.after(20 * time.Second)
	require.Equal(t, traffic.YellowPhase, st.State)

	st = h.command("force_north")
	assertPhase(t, st, traffic.RedPhase, traffic.North)
	st = h.after(2 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
}

func TestStopAllHoldsUntilAuto(t *testing.T) {
	h := newHarness(t, tiered, timing)

	st := h.command("stop_all")
	assert.True(t, st.Signals.IsAllRed())
	assert.True(t, st.Hold)
	assert.True(t, h.s.InSafetyHold())

	st = h.after(10 * time.Minute)
	assert.True(t, st.Signals.IsAllRed())

	st = h.command("auto")
	assert.False(t, h.s.InSafetyHold())
	assertPhase(t, st, traffic.GreenPhase, traffic.East)
}

func TestEmergencyPreemption(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.clock.Advance(5 * time.Second)
	h.observe([4]int{4, 4, 4, 7}, traffic.West)

	st := h.tick()
	assert.Equal(t, traffic.Emergency, st.Mode)
	assertPhase(t, st, traffic.RedPhase, traffic.North)
	assert.Equal(t, traffic.West, st.Next)
	assert.Equal(t, EmergencyStatus{Active: true, Direction: traffic.West}, st.Emergency)
	require.Len(t, st.Events, 1)
	assert.Equal(t, EmergencyStarted, st.Events[0].Kind)

	st = h.after(2 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.West)
	assert.Equal(t, 20*time.Second, st.GreenDuration)

	st = h.after(30 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.West)
	assert.Equal(t, 20, st.Timer, "elapsed time is frozen during preemption")
	assert.Equal(t, 32, st.Emergency.Elapsed)

	h.observe([4]int{4, 4, 4, 7})
	st = h.tick()
	assert.Equal(t, traffic.Auto, st.Mode)
	assert.False(t, st.Emergency.Active)
	require.Len(t, st.Events, 1)
	assert.Equal(t, EmergencyCleared, st.Events[0].Kind)
	assert.Equal(t, 20, st.Timer, "accounting resumes from the clear, frozen time is not restored")

	st = h.after(20 * time.Second)
	assertPhase(t, st, traffic.YellowPhase, traffic.West)
}

func TestEmergencyOnCurrentGreenFreezes(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.clock.Advance(15 * time.Second)
	h.observe([4]int{}, traffic.North)

	st := h.tick()
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
	assert.Equal(t, traffic.Emergency, st.Mode)

	st = h.after(30 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.North)
}

func TestEmergencyExpiresAndLatches(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.observe([4]int{}, traffic.East)
	h.tick()
	h.after(2 * time.Second)

	st := h.after(37 * time.Second)
	assert.Equal(t, traffic.Emergency, st.Mode)

	st = h.after(time.Second)
	assert.Equal(t, traffic.Auto, st.Mode)
	require.Len(t, st.Events, 1)
	assert.Equal(t, EmergencyExpired, st.Events[0].Kind)

	h.observe([4]int{}, traffic.East)
	st = h.tick()
	assert.Equal(t, traffic.Auto, st.Mode, "still flagged, stays latched")

	h.observe([4]int{})
	h.tick()
	h.observe([4]int{}, traffic.East)
	st = h.tick()
	assert.Equal(t, traffic.Emergency, st.Mode, "a fresh flag after a gap preempts again")
}

func TestEmergencyLatchOnlyBlocksExpiredApproach(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.observe([4]int{}, traffic.East)
	h.tick()
	h.after(2 * time.Second)
	st := h.after(38 * time.Second)
	require.Equal(t, traffic.Auto, st.Mode)

	h.observe([4]int{}, traffic.East, traffic.South)
	st = h.tick()
	assert.Equal(t, traffic.Emergency, st.Mode, "another approach is not latched")
	assert.Equal(t, EmergencyStatus{Active: true, Direction: traffic.South}, st.Emergency)
	assertPhase(t, st, traffic.RedPhase, traffic.East)

	st = h.after(2 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.South)
}

func TestEmergencyConfirmation(t *testing.T) {
	tm := timing
	tm.EmergencyConfirm = 2
	h := newHarness(t, tiered, tm)

	h.observe([4]int{}, traffic.South)
	assert.Equal(t, traffic.Auto, h.tick().Mode)
	assert.Equal(t, traffic.Auto, h.tick().Mode, "the same observation only counts once")

	h.observe([4]int{}, traffic.South)
	assert.Equal(t, traffic.Emergency, h.tick().Mode)
}

func TestEmergencyPreemptsSafetyHold(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.command("stop_all")

	h.observe([4]int{}, traffic.South)
	st := h.tick()
	assert.Equal(t, traffic.Emergency, st.Mode)
	assert.False(t, st.Hold)

	st = h.after(2 * time.Second)
	assertPhase(t, st, traffic.GreenPhase, traffic.South)
}

func TestOperatorOverridesEmergency(t *testing.T) {
	h := newHarness(t, tiered, timing)
	h.observe([4]int{}, traffic.South)
	h.tick()

	st := h.command("stop_all")
	assert.Equal(t, traffic.Manual, st.Mode)
	assert.True(t, st.Signals.IsAllRed())

	st = h.after(time.Second)
	assert.Equal(t, traffic.Manual, st.Mode, "latched emergency does not re-preempt")
}

func TestTieredDurations(t *testing.T) {
	tests := []struct {
		count int
		want  time.Duration
	}{
		{0, 10 * time.Second},
		{4, 10 * time.Second},
		{5, 20 * time.Second},
		{14, 20 * time.Second},
		{15, 30 * time.Second},
		{200, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tiered.GreenDuration(tt.count), "count %d", tt.count)
	}
	assert.Equal(t, traffic.North, tiered.Next(traffic.West, [4]int{}))
}

func TestProportionalPolicy(t *testing.T) {
	p := Proportional{Min: 5 * time.Second, Max: 60 * time.Second, PerVehicle: 2 * time.Second}
	assert.Equal(t, 5*time.Second, p.GreenDuration(0))
	assert.Equal(t, 5*time.Second, p.GreenDuration(-3))
	assert.Equal(t, 25*time.Second, p.GreenDuration(10))
	assert.Equal(t, 60*time.Second, p.GreenDuration(100))

	assert.Equal(t, traffic.West, p.Next(traffic.North, [4]int{0, 0, 0, 1}))
	assert.Equal(t, traffic.North, p.Next(traffic.North, [4]int{3, 0, 0, 0}), "current approach is considered last")
	assert.Equal(t, traffic.East, p.Next(traffic.North, [4]int{}), "all empty falls back to rotation")
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Empty()
	p, err := PolicyFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, tiered, p)

	name := config.PolicyProportional
	cfg.TimingPolicy = &name
	p, err = PolicyFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "proportional", p.Name())

	bad := "fifo"
	cfg.TimingPolicy = &bad
	_, err = PolicyFromConfig(cfg)
	assert.Error(t, err)
}
