// Package scheduler drives periodic re-evaluation of every patient and
// the retention sweep. It is a two-state machine (Idle, Running-Cycle)
// with at most one cycle in flight: a tick that arrives while a cycle is
// still running is skipped, never overlapped.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/healthguard-ai/platform/pkg/common/logger"
)

type State int32

const (
	StateIdle State = iota
	StateRunningCycle
)

func (s State) String() string {
	if s == StateRunningCycle {
		return "running-cycle"
	}
	return "idle"
}

// Cycler is the evaluation flow the scheduler re-drives each period.
// *pipeline.Service is the production implementation.
type Cycler interface {
	ListPatientIDs(ctx context.Context) ([]string, error)
	EvaluateStored(ctx context.Context, patientID string) error
	RecordCycleError(ctx context.Context, patientID string, cause error)
	Sweep(ctx context.Context) int
	NoteCycle(at time.Time)
}

// Ticker abstracts the timer so cycle-skip and cancellation behavior
// can be tested without wall-clock sleeps. The returned func stops the
// underlying timer.
type Ticker func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	ticker   Ticker
	clock    func() time.Time

	state   atomic.Int32
	skipped atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cycler Cycler, interval time.Duration) *Scheduler {
	return &Scheduler{
		cycler:   cycler,
		interval: interval,
		ticker:   realTicker,
		clock:    time.Now,
		stop:     make(chan struct{}),
	}
}

// WithTicker substitutes the timer source. Test hook.
func (s *Scheduler) WithTicker(t Ticker) *Scheduler {
	s.ticker = t
	return s
}

// WithClock substitutes the wall clock. Test hook.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Skipped reports how many ticks were dropped because a cycle was still
// in flight.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Start launches the periodic loop. Each tick attempts the Idle →
// Running-Cycle transition; failure means the previous cycle is still
// running and the tick is dropped.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticks, stopTicker := s.ticker(s.interval)
		defer stopTicker()

		logger.Log.WithField("interval", s.interval.String()).Info("scheduler started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticks:
				if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunningCycle)) {
					s.skipped.Add(1)
					logger.Log.Warn("previous cycle still running, skipping tick")
					continue
				}
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer s.state.Store(int32(StateIdle))
					s.runCycle(ctx)
				}()
			}
		}
	}()
}

// Stop signals shutdown and waits for the in-flight cycle to finish its
// current patient.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	logger.Log.Info("scheduler stopped")
}

// runCycle evaluates every patient from stored history, then sweeps
// expired media. A failure for one patient is recorded and the cycle
// moves on. On shutdown the current patient's evaluation completes but
// no new one begins.
func (s *Scheduler) runCycle(ctx context.Context) {
	started := s.clock()

	ids, err := s.cycler.ListPatientIDs(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("cycle aborted, failed to list patients")
		return
	}

	evaluated := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			logger.Log.Info("shutdown during cycle, not starting next patient")
			return
		case <-s.stop:
			logger.Log.Info("shutdown during cycle, not starting next patient")
			return
		default:
		}

		if err := s.cycler.EvaluateStored(context.WithoutCancel(ctx), id); err != nil {
			s.cycler.RecordCycleError(ctx, id, err)
			logger.Log.WithError(err).WithField("patient_id", id).Error("patient evaluation failed")
			continue
		}
		evaluated++
	}

	destroyed := s.cycler.Sweep(ctx)
	s.cycler.NoteCycle(s.clock().UTC())

	logger.Log.WithFields(map[string]interface{}{
		"patients":  evaluated,
		"destroyed": destroyed,
		"took":      s.clock().Sub(started).String(),
	}).Info("cycle complete")
}
