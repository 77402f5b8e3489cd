package irrigation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
)

// Clock abstracts timers so watering jobs can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ScheduleState is what the scheduler reads and records about schedules.
type ScheduleState interface {
	ListRunnable(ctx context.Context) ([]entities.Schedule, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

type job struct {
	schedule entities.Schedule
	gen      uint64
	entry    cron.EntryID
	start    Timer
	stop     Timer
	running  bool
}

// Scheduler runs watering jobs. Each registration gets a new generation; start and
// stop callbacks carry the generation they were created under and do nothing once
// it is no longer current.
type Scheduler struct {
	cron       *cron.Cron
	clock      Clock
	state      ScheduleState
	dispatcher Dispatcher
	channel    string
	log        *zap.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*job
	gen  uint64
}

func NewScheduler(state ScheduleState, dispatcher Dispatcher, channel string, loc *time.Location, log *zap.Logger) *Scheduler {
	return newScheduler(state, dispatcher, channel, loc, systemClock{}, log)
}

func newScheduler(state ScheduleState, dispatcher Dispatcher, channel string, loc *time.Location, clock Clock, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		clock:      clock,
		state:      state,
		dispatcher: dispatcher,
		channel:    channel,
		log:        log,
		jobs:       make(map[uuid.UUID]*job),
	}
}

// Start registers every runnable schedule and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.state.ListRunnable(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, sch := range schedules {
		if err := s.Register(ctx, sch); err != nil {
			s.log.Warn("skipping schedule", zap.String("schedule_id", sch.ID.String()), zap.Error(err))
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("schedules", len(schedules)))
	return nil
}

// Stop halts cron and drops pending timers without sending anything.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		j.stopTimers()
		delete(s.jobs, id)
	}
}

// Register (re)installs a schedule, replacing any previous registration under the
// same id. Inactive or completed schedules are only cancelled. A one-time schedule
// whose time has passed is marked completed.
func (s *Scheduler) Register(ctx context.Context, sch entities.Schedule) error {
	s.mu.Lock()
	stopDevice := s.cancelLocked(sch.ID)
	pastDue, err := s.installLocked(sch)
	s.mu.Unlock()

	if stopDevice != "" {
		go s.send(stopDevice, false)
	}
	if err != nil {
		return err
	}
	if pastDue {
		s.log.Info("one-time schedule is in the past, marking completed", zap.String("schedule_id", sch.ID.String()))
		return s.state.MarkCompleted(ctx, sch.ID)
	}
	return nil
}

func (s *Scheduler) installLocked(sch entities.Schedule) (bool, error) {
	if !sch.IsActive || sch.IsCompleted {
		return false, nil
	}
	s.gen++
	j := &job{schedule: sch, gen: s.gen}
	id, gen := sch.ID, j.gen

	switch sch.Type {
	case entities.ScheduleOneTime:
		if sch.ScheduledAt == nil {
			return false, fmt.Errorf("schedule %s has no date", sch.ID)
		}
		wait := sch.ScheduledAt.Sub(s.clock.Now())
		if wait <= 0 {
			return true, nil
		}
		j.start = s.clock.AfterFunc(wait, func() { s.fire(id, gen) })
	case entities.ScheduleRecurring:
		spec, err := CronSpec(sch)
		if err != nil {
			return false, err
		}
		entry, err := s.cron.AddFunc(spec, func() { s.fire(id, gen) })
		if err != nil {
			return false, fmt.Errorf("schedule %s: %w", sch.ID, err)
		}
		j.entry = entry
	default:
		return false, fmt.Errorf("schedule %s: unknown type %q", sch.ID, sch.Type)
	}
	s.jobs[id] = j
	s.log.Debug("schedule registered", zap.String("schedule_id", id.String()), zap.Uint64("generation", gen))
	return false, nil
}

// Cancel removes a schedule. If it is currently watering, the stop is sent now and
// the pending stop callback is discarded.
func (s *Scheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	stopDevice := s.cancelLocked(id)
	s.mu.Unlock()
	if stopDevice != "" {
		go s.send(stopDevice, false)
	}
}

// cancelLocked returns the device to stop when the job was running.
func (s *Scheduler) cancelLocked(id uuid.UUID) string {
	j, ok := s.jobs[id]
	if !ok {
		return ""
	}
	delete(s.jobs, id)
	j.stopTimers()
	if j.entry != 0 {
		s.cron.Remove(j.entry)
	}
	if j.running {
		return j.schedule.DeviceID
	}
	return ""
}

func (j *job) stopTimers() {
	if j.start != nil {
		j.start.Stop()
	}
	if j.stop != nil {
		j.stop.Stop()
	}
}

func (s *Scheduler) fire(id uuid.UUID, gen uint64) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.gen != gen {
		s.mu.Unlock()
		return
	}
	if j.running {
		s.mu.Unlock()
		s.log.Warn("schedule still watering, skipping run", zap.String("schedule_id", id.String()))
		return
	}
	j.running = true
	sch := j.schedule
	j.stop = s.clock.AfterFunc(sch.Duration(), func() { s.finish(id, gen) })
	s.mu.Unlock()

	s.log.Info("watering started",
		zap.String("schedule_id", id.String()), zap.String("name", sch.Name),
		zap.String("device_id", sch.DeviceID), zap.Int("duration_minutes", sch.DurationMinutes))
	s.send(sch.DeviceID, true)
	if err := s.state.MarkRun(context.Background(), id, s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to record schedule run", zap.String("schedule_id", id.String()), zap.Error(err))
	}
}

func (s *Scheduler) finish(id uuid.UUID, gen uint64) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.gen != gen || !j.running {
		s.mu.Unlock()
		return
	}
	j.running = false
	j.stop = nil
	sch := j.schedule
	oneTime := sch.Type == entities.ScheduleOneTime
	if oneTime {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	s.log.Info("watering finished", zap.String("schedule_id", id.String()), zap.String("device_id", sch.DeviceID))
	s.send(sch.DeviceID, false)
	if oneTime {
		if err := s.state.MarkCompleted(context.Background(), id); err != nil {
			s.log.Error("failed to complete schedule", zap.String("schedule_id", id.String()), zap.Error(err))
		}
	}
}

func (s *Scheduler) send(deviceID string, on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	value := messages.ScheduleStatus(deviceID, on)
	if err := s.dispatcher.Dispatch(ctx, s.channel, value); err != nil {
		s.log.Error("schedule command failed", zap.String("channel", s.channel), zap.String("value", value), zap.Error(err))
	}
}

// Registered reports whether id has a live registration.
func (s *Scheduler) Registered(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// CronSpec builds the "minute hour * * days" expression of a recurring schedule.
func CronSpec(sch entities.Schedule) (string, error) {
	h, m, err := ParseClock(sch.StartTime)
	if err != nil {
		return "", err
	}
	days := sch.Days()
	if len(days) == 0 {
		return "", fmt.Errorf("schedule %s has no days", sch.ID)
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("%d %d * * %s", m, h, strings.Join(parts, ",")), nil
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start time %q, want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}
