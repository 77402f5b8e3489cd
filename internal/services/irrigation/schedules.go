package irrigation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 120
)

var ErrScheduleNotFound = fmt.Errorf("%w: schedule", model.ErrNotFound)

// ScheduleRepo is the gorm-backed schedule table.
type ScheduleRepo struct {
	db *gorm.DB
}

func NewScheduleRepo(db *gorm.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

// ListRunnable returns active recurring schedules and active one-time schedules not yet completed.
func (r *ScheduleRepo) ListRunnable(ctx context.Context) ([]entities.Schedule, error) {
	var out []entities.Schedule
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND (type = ? OR (type = ? AND is_completed = ?))",
			true, entities.ScheduleRecurring, entities.ScheduleOneTime, false).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (r *ScheduleRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&entities.Schedule{}).Where("id = ?", id).
		Updates(map[string]any{"is_completed": true, "updated_at": time.Now().UTC()}).Error
}

func (r *ScheduleRepo) MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entities.Schedule{}).Where("id = ?", id).
		UpdateColumn("last_run_at", at).Error
}

func (r *ScheduleRepo) get(ctx context.Context, userID string, id uuid.UUID) (*entities.Schedule, error) {
	var s entities.Schedule
	err := r.db.WithContext(ctx).First(&s, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w %s", ErrScheduleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ScheduleInput is the user-facing shape of a schedule. PlantIndex selects a plant
// of AreaID; nil or -1 targets the whole area.
type ScheduleInput struct {
	Name            string                `json:"name"`
	Type            entities.ScheduleType `json:"scheduleType"`
	ScheduledAt     *time.Time            `json:"scheduledDateTime"`
	StartTime       string                `json:"startTime"`
	DaysOfWeek      []int                 `json:"daysOfWeek"`
	DurationMinutes int                   `json:"duration"`
	DeviceID        string                `json:"deviceId"`
	AreaID          *uuid.UUID            `json:"areaId"`
	PlantIndex      *int                  `json:"plantIndex"`
	IsActive        *bool                 `json:"isActive"`
}

type PlantResolver interface {
	GetArea(ctx context.Context, userID string, id uuid.UUID) (*entities.Area, error)
	ResolvePlantIndex(ctx context.Context, userID string, areaID uuid.UUID, index int) (uuid.UUID, error)
}

// ScheduleService stores schedules and keeps the scheduler in sync with them.
type ScheduleService struct {
	repo      *ScheduleRepo
	devices   UserDevices
	plants    PlantResolver
	scheduler *Scheduler
	log       *zap.Logger
}

func NewScheduleService(repo *ScheduleRepo, devices UserDevices, plants PlantResolver, scheduler *Scheduler, log *zap.Logger) *ScheduleService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScheduleService{repo: repo, devices: devices, plants: plants, scheduler: scheduler, log: log}
}

func (s *ScheduleService) Create(ctx context.Context, userID string, in ScheduleInput) (*entities.Schedule, error) {
	sch := entities.Schedule{ID: uuid.New(), UserID: userID, IsActive: true}
	if err := s.apply(ctx, userID, &sch, in); err != nil {
		return nil, err
	}
	if err := s.repo.db.WithContext(ctx).Create(&sch).Error; err != nil {
		return nil, err
	}
	return s.register(ctx, userID, sch)
}

func (s *ScheduleService) List(ctx context.Context, userID string) ([]entities.Schedule, error) {
	var out []entities.Schedule
	err := s.repo.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&out).Error
	return out, err
}

func (s *ScheduleService) Get(ctx context.Context, userID string, id uuid.UUID) (*entities.Schedule, error) {
	return s.repo.get(ctx, userID, id)
}

// Update replaces the schedule definition and reinstalls it. A one-time schedule
// moved to a new date is runnable again.
func (s *ScheduleService) Update(ctx context.Context, userID string, id uuid.UUID, in ScheduleInput) (*entities.Schedule, error) {
	sch, err := s.repo.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, userID, sch, in); err != nil {
		return nil, err
	}
	sch.IsCompleted = false
	if err := s.repo.db.WithContext(ctx).Save(sch).Error; err != nil {
		return nil, err
	}
	return s.register(ctx, userID, *sch)
}

func (s *ScheduleService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	sch, err := s.repo.get(ctx, userID, id)
	if err != nil {
		return err
	}
	s.scheduler.Cancel(sch.ID)
	if err := s.repo.db.WithContext(ctx).Delete(&entities.Schedule{}, "id = ?", sch.ID).Error; err != nil {
		return err
	}
	s.log.Info("schedule deleted", zap.String("schedule_id", id.String()), zap.String("user_id", userID))
	return nil
}

// ReleaseDevice cancels the live registrations of every schedule targeting deviceID.
// Call it after the device is deleted; the rows themselves are left in place.
func (s *ScheduleService) ReleaseDevice(ctx context.Context, userID, deviceID string) error {
	var ids []uuid.UUID
	err := s.repo.db.WithContext(ctx).Model(&entities.Schedule{}).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.scheduler.Cancel(id)
	}
	if len(ids) > 0 {
		s.log.Info("schedules released", zap.String("device_id", deviceID), zap.Int("count", len(ids)))
	}
	return nil
}

// Toggle flips isActive and installs or cancels the job accordingly.
func (s *ScheduleService) Toggle(ctx context.Context, userID string, id uuid.UUID) (*entities.Schedule, error) {
	sch, err := s.repo.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	sch.IsActive = !sch.IsActive
	if err := s.repo.db.WithContext(ctx).Model(sch).Update("is_active", sch.IsActive).Error; err != nil {
		return nil, err
	}
	if !sch.IsActive {
		s.scheduler.Cancel(sch.ID)
		return sch, nil
	}
	return s.register(ctx, userID, *sch)
}

func (s *ScheduleService) register(ctx context.Context, userID string, sch entities.Schedule) (*entities.Schedule, error) {
	if err := s.scheduler.Register(ctx, sch); err != nil {
		return nil, err
	}
	return s.repo.get(ctx, userID, sch.ID)
}

func (s *ScheduleService) apply(ctx context.Context, userID string, sch *entities.Schedule, in ScheduleInput) error {
	if err := validateSchedule(&in); err != nil {
		return err
	}
	dev, err := s.devices.GetUserDevice(ctx, userID, in.DeviceID)
	if err != nil {
		return err
	}

	sch.Name = in.Name
	sch.Type = in.Type
	sch.DurationMinutes = in.DurationMinutes
	sch.DeviceID = dev.ID
	sch.ScheduledAt, sch.StartTime = nil, ""
	sch.SetDays(nil)
	if in.Type == entities.ScheduleOneTime {
		at := in.ScheduledAt.UTC()
		sch.ScheduledAt = &at
	} else {
		sch.StartTime = in.StartTime
		sch.SetDays(in.DaysOfWeek)
	}
	if in.IsActive != nil {
		sch.IsActive = *in.IsActive
	}

	sch.AreaID, sch.PlantID = nil, nil
	if in.AreaID == nil {
		return nil
	}
	if _, err := s.plants.GetArea(ctx, userID, *in.AreaID); err != nil {
		return err
	}
	areaID := *in.AreaID
	sch.AreaID = &areaID
	if in.PlantIndex != nil && *in.PlantIndex >= 0 {
		plantID, err := s.plants.ResolvePlantIndex(ctx, userID, areaID, *in.PlantIndex)
		if err != nil {
			return err
		}
		sch.PlantID = &plantID
	}
	return nil
}

// validateSchedule normalizes in and rejects incomplete definitions.
func validateSchedule(in *ScheduleInput) error {
	var errs []error
	in.Name = strings.TrimSpace(in.Name)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if in.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if in.DeviceID == "" {
		errs = append(errs, errors.New("deviceId is required"))
	}
	if in.DurationMinutes < MinDurationMinutes || in.DurationMinutes > MaxDurationMinutes {
		errs = append(errs, fmt.Errorf("duration must be between %d and %d minutes", MinDurationMinutes, MaxDurationMinutes))
	}
	if in.Type == "" {
		in.Type = entities.ScheduleOneTime
	}
	switch in.Type {
	case entities.ScheduleOneTime:
		if in.ScheduledAt == nil || in.ScheduledAt.IsZero() {
			errs = append(errs, errors.New("scheduledDateTime is required for one-time schedules"))
		}
	case entities.ScheduleRecurring:
		in.StartTime = strings.TrimSpace(in.StartTime)
		if h, m, err := ParseClock(in.StartTime); err != nil {
			errs = append(errs, err)
		} else {
			in.StartTime = fmt.Sprintf("%02d:%02d", h, m)
		}
		days, err := normalizeDays(in.DaysOfWeek)
		if err != nil {
			errs = append(errs, err)
		}
		in.DaysOfWeek = days
	default:
		errs = append(errs, fmt.Errorf("unknown schedule type %q", in.Type))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}
	return nil
}

func normalizeDays(days []int) ([]int, error) {
	if len(days) == 0 {
		return nil, errors.New("daysOfWeek is required for recurring schedules")
	}
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("day %d out of range 0-6", d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out, nil
}
