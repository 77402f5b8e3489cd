package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

const DefaultHistoryLimit = 24

// Filter narrows reading queries. Zero values mean "any".
type Filter struct {
	UserID   string
	DeviceID string
	From     time.Time
	To       time.Time
	Limit    int
}

// ReadingStore reads and writes telemetry readings, one table per channel.
type ReadingStore struct {
	db     *gorm.DB
	tables *ChannelTables
}

func NewReadingStore(db *gorm.DB, log *zap.Logger) *ReadingStore {
	return &ReadingStore{db: db, tables: NewChannelTables(db, log)}
}

func (s *ReadingStore) Tables() *ChannelTables { return s.tables }

// Insert stores r in its channel table, filling ID and CreatedAt when missing.
func (s *ReadingStore) Insert(ctx context.Context, r *entities.Reading) error {
	table, err := s.tables.Table(ctx, r.Channel)
	if err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Table(table).Create(r).Error
}

// Latest returns the newest reading matching f.
func (s *ReadingStore) Latest(ctx context.Context, channel string, f Filter) (*entities.Reading, error) {
	f.Limit = 1
	out, err := s.History(ctx, channel, f)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no %s readings", model.ErrNotFound, channel)
	}
	return &out[0], nil
}

// History returns readings newest first, DefaultHistoryLimit when f.Limit is unset.
func (s *ReadingStore) History(ctx context.Context, channel string, f Filter) ([]entities.Reading, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	return s.find(ctx, channel, f, "created_at DESC, id DESC")
}

// Between returns readings in [f.From, f.To] oldest first. f.Limit is ignored when unset.
func (s *ReadingStore) Between(ctx context.Context, channel string, f Filter) ([]entities.Reading, error) {
	return s.find(ctx, channel, f, "created_at ASC, id ASC")
}

func (s *ReadingStore) find(ctx context.Context, channel string, f Filter, order string) ([]entities.Reading, error) {
	table, err := s.tables.Table(ctx, channel)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Table(table)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []entities.Reading
	if err := q.Order(order).Find(&out).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	for i := range out {
		out[i].Channel = channel
	}
	return out, nil
}
