// Package controller owns the running junction: it builds every stage in a
// fixed order, runs their workers under one errgroup and tears them down
// together.
//
// Construction order:
//
//  1. config (resolved defaults)
//  2. clock
//  3. frame board and one capture worker per approach
//  4. analyzer and perception runner
//  5. traffic state store
//  6. phase scheduler
//  7. hardware emitter over the supplied link
//  8. telemetry: command queue, assembler, websocket hub
//  9. event dispatcher
//
// The operator API is layered on top by the caller.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/events"
	"github.com/banshee-data/junction/internal/hwlink"
	"github.com/banshee-data/junction/internal/monitoring"
	"github.com/banshee-data/junction/internal/perception"
	"github.com/banshee-data/junction/internal/scheduler"
	"github.com/banshee-data/junction/internal/state"
	"github.com/banshee-data/junction/internal/telemetry"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
)

// ErrNotInSafetyHold is returned by LampTest outside the manual all-red hold.
var ErrNotInSafetyHold = errors.New("lamp test requires the all-red hold (send stop_all first)")

const eventBacklog = 64

// SourceSpec is how one approach gets its frames.
type SourceSpec struct {
	Open capture.Opener
	// Pace bounds the read rate of file-backed sources.
	Pace time.Duration
}

// Deps are the capabilities built outside the controller because they
// depend on hardware or optional native libraries.
type Deps struct {
	Clock    timeutil.Clock
	Sources  map[traffic.Direction]SourceSpec
	Detector perception.Detector
	// Enhancer may be nil.
	Enhancer perception.Enhancer
	// Link is the signal hardware. Nil runs without hardware.
	Link hwlink.Sender
	// Sink receives violation and emergency events. Nil logs them.
	Sink events.Sink
	// Initial is the approach that starts with the green.
	Initial traffic.Direction
}

// Controller is the explicitly owned runtime context. Nothing in the
// pipeline is reachable through globals.
type Controller struct {
	cfg   *config.Config
	clock timeutil.Clock
	logf  monitoring.Logger

	Board     *capture.Board
	Workers   []*capture.Worker
	Analyzer  *perception.Analyzer
	Runner    *perception.Runner
	Store     *state.Store
	Scheduler *scheduler.Scheduler
	Emitter   *hwlink.Emitter
	Commands  *telemetry.CommandQueue
	Assembler *telemetry.Assembler
	Hub       *telemetry.Hub
	Events    *events.Dispatcher

	controlInterval time.Duration
	tickErrorPause  time.Duration

	ticks      atomic.Int64
	tickPanics atomic.Int64
	rejected   atomic.Int64
	started    time.Time
}

// New builds the controller from cfg. cfg should already be validated.
func New(cfg *config.Config, deps Deps) (*Controller, error) {
	if cfg == nil {
		cfg = config.Empty()
	}
	if deps.Detector == nil {
		return nil, errors.New("controller: a detector is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Controller{
		cfg:             cfg.Resolved(),
		clock:           clock,
		logf:            monitoring.Tagged("controller"),
		controlInterval: cfg.GetControlInterval(),
		tickErrorPause:  cfg.GetTickErrorPause(),
		started:         clock.Now(),
	}

	c.Board = capture.NewBoard(cfg.GetFrameSize(), clock.Now())
	for _, d := range traffic.Directions {
		spec, ok := deps.Sources[d]
		if !ok || spec.Open == nil {
			c.logf("no source for %s, showing placeholder", d)
			continue
		}
		c.Workers = append(c.Workers, &capture.Worker{
			Direction:      d,
			Open:           spec.Open,
			Board:          c.Board,
			Clock:          clock,
			ReconnectDelay: cfg.GetReconnectDelay(),
			Pace:           spec.Pace,
		})
	}

	c.Analyzer = perception.NewAnalyzer(deps.Detector, deps.Enhancer, perception.Options{
		VehicleClasses:   cfg.GetVehicleClasses(),
		EmergencyClasses: cfg.GetEmergencyClasses(),
		RainClass:        cfg.GetRainClass(),
		ROI:              cfg.GetROI(),
		NightThreshold:   cfg.GetNightThreshold(),
		StalledThreshold: cfg.GetStalledThreshold(),
		StalledLimit:     cfg.GetStalledLimit(),
		MinConfidence:    perception.DefaultMinConfidence,
	})
	c.Store = state.NewStore(deps.Initial)
	c.Runner = &perception.Runner{
		Analyzer: c.Analyzer,
		Board:    c.Board,
		Store:    c.Store,
		Clock:    clock,
		Interval: cfg.GetDetectionInterval(),
	}

	policy, err := scheduler.PolicyFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	c.Scheduler = scheduler.New(clock, c.Store, policy, scheduler.Timing{
		Yellow:           cfg.GetYellow(),
		RedHold:          cfg.GetRedHold(),
		ForecastUnit:     cfg.GetGreenMedium(),
		EmergencyMax:     cfg.GetEmergencyMax(),
		EmergencyConfirm: cfg.GetEmergencyConfirm(),
	}, deps.Initial)

	link := deps.Link
	if link == nil {
		link = hwlink.NewDisabledLink()
	}
	c.Emitter = hwlink.NewEmitter(link, clock, cfg.GetHardwareInterval())

	c.Commands = telemetry.NewCommandQueue(cfg.GetCommandQueueSize())
	c.Assembler = telemetry.NewAssembler(
		telemetry.NewFeedEncoder(cfg.GetJPEGQuality()),
		telemetry.NewViolationMonitor(cfg.GetViolationWindow()),
	)
	c.Hub = telemetry.NewHub(c.Commands)

	sink := deps.Sink
	if sink == nil {
		sink = events.NewLogSink()
	}
	c.Events = events.NewDispatcher(sink, eventBacklog)

	// Hardware starts from the scheduler's initial state.
	if err := c.Emitter.Offer(c.Scheduler.Status().Signals); err != nil {
		return nil, fmt.Errorf("controller: initial signals: %w", err)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() *config.Config { return c.cfg }

// Run starts every worker and blocks until ctx is cancelled or a worker
// fails. Workers degrade on their own errors, so a clean shutdown returns
// nil.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range c.Workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	g.Go(func() error { return c.Runner.Run(ctx) })
	g.Go(func() error { return c.Emitter.Run(ctx) })
	g.Go(func() error { return c.Events.Run(ctx) })
	g.Go(func() error { return c.controlLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		c.Hub.Close()
		return nil
	})

	err := g.Wait()
	c.logf("stopped after %d ticks", c.ticks.Load())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) controlLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.controlInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := c.SafeStep(); err != nil {
				if err := timeutil.SleepContext(ctx, c.clock, c.tickErrorPause); err != nil {
					return err
				}
			}
		}
	}
}

// SafeStep runs Step and turns a panic into an error so the loop survives.
func (c *Controller) SafeStep() (st scheduler.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.tickPanics.Add(1)
			err = fmt.Errorf("control tick panic: %v", r)
			c.logf("%v, pausing %s", err, c.tickErrorPause)
		}
	}()
	return c.Step(), nil
}

// Step runs one control tick: at most one queued command, one scheduler
// step, the hardware offer, one telemetry broadcast and any events.
func (c *Controller) Step() scheduler.Status {
	var cmd *traffic.Command
	if next, ok := c.Commands.Pop(); ok {
		cmd = &next
	}
	st := c.Scheduler.Tick(cmd)
	c.ticks.Add(1)

	if err := c.Emitter.Offer(st.Signals); err != nil {
		c.rejected.Add(1)
		c.logf("refusing signals %s: %v", st.Signals, err)
	}

	payload := c.Assembler.Build(st, c.Board.Snapshot())
	if err := c.Hub.Broadcast(payload); err != nil {
		c.logf("%v", err)
	}

	if payload.Violation != nil {
		c.Events.Emit(events.KindViolation, payload.Violation.Timestamp, payload.Violation)
	}
	for _, ev := range st.Events {
		switch ev.Kind {
		case scheduler.EmergencyStarted, scheduler.EmergencyCleared, scheduler.EmergencyExpired:
			c.Events.Emit(events.KindEmergency, ev.At, ev)
		}
	}
	return st
}

// Submit queues an operator command from any surface.
func (c *Controller) Submit(raw string) (traffic.Command, error) {
	return c.Commands.Submit(raw)
}

// LampTest lights one lamp on the hardware for the next frame. It is only
// allowed while the operator holds every approach at red.
func (c *Controller) LampTest(d traffic.Direction, col traffic.Color) error {
	if !c.Scheduler.InSafetyHold() {
		return ErrNotInSafetyHold
	}
	return c.Emitter.LampTest(d, col)
}

// AttachRoutes mounts the websocket endpoint and hardware debug pages.
func (c *Controller) AttachRoutes(mux *http.ServeMux) {
	mux.Handle("/ws", c.Hub)
	c.Emitter.AttachAdminRoutes(mux)
}
