package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

var (
	ErrDuplicateDevice = fmt.Errorf("%w: device id already registered", model.ErrConflict)
	ErrDuplicateArea   = fmt.Errorf("%w: area name already used", model.ErrConflict)
	ErrDeviceNotFound  = fmt.Errorf("%w: device", model.ErrNotFound)
	ErrAreaNotFound    = fmt.Errorf("%w: area", model.ErrNotFound)
	ErrPlantNotFound   = fmt.Errorf("%w: plant", model.ErrNotFound)
	ErrPlantIndex      = fmt.Errorf("%w: plant index out of range", model.ErrValidation)
)

// Registry stores devices, areas and plants. Area membership is derived from the
// device link columns, so a device is listed in exactly the area it points to.
type Registry struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func New(db *gorm.DB, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(err error, sentinel error, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w %v", sentinel, id)
	}
	return err
}

// normalizeChannels trims, drops blanks and duplicates, and falls back to the default set.
func normalizeChannels(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		out = append(out, model.DefaultChannels...)
	}
	return out
}

func feedsOf(d *entities.Device) []string {
	feeds := make([]string, 0, len(d.Channels))
	for _, c := range d.Channels {
		feeds = append(feeds, c.Channel)
	}
	sort.Strings(feeds)
	return feeds
}

func validateThreshold(t entities.Threshold) error {
	if t.Min < 0 || t.Max > 100 || t.Min > t.Max {
		return validation("moisture threshold must satisfy 0 <= min <= max <= 100, got %v/%v", t.Min, t.Max)
	}
	return nil
}
