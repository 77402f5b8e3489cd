package persistence

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

const maxTableSuffix = 40

// ChannelTables maps channel names to reading tables. A table is created the first
// time its channel is used; concurrent first uses share one creation.
type ChannelTables struct {
	db     *gorm.DB
	log    *zap.Logger
	tables sync.Map // channel -> *tableEntry
}

type tableEntry struct {
	once sync.Once
	name string
	err  error
}

func NewChannelTables(db *gorm.DB, log *zap.Logger) *ChannelTables {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChannelTables{db: db, log: log}
}

// Table returns the table holding readings of channel, creating it if needed.
// A failed creation is forgotten so the next call retries.
func (c *ChannelTables) Table(ctx context.Context, channel string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", fmt.Errorf("%w: channel name is required", model.ErrValidation)
	}
	v, _ := c.tables.LoadOrStore(channel, &tableEntry{name: TableName(channel)})
	e := v.(*tableEntry)
	e.once.Do(func() {
		e.err = c.create(ctx, channel, e.name)
	})
	if e.err != nil {
		c.tables.CompareAndDelete(channel, e)
		return "", e.err
	}
	return e.name, nil
}

func (c *ChannelTables) create(ctx context.Context, channel, table string) error {
	db := c.db.WithContext(ctx)
	if err := db.Table(table).AutoMigrate(&entities.Reading{}); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	// index names are global in both sqlite and postgres, so they carry the table name
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_device_created ON %s (device_id, created_at)", table, table)
	if err := db.Exec(idx).Error; err != nil {
		return fmt.Errorf("index table %s: %w", table, err)
	}
	entry := entities.ChannelCatalog{Name: channel, StorageTable: table}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
		return fmt.Errorf("catalog channel %s: %w", channel, err)
	}
	c.log.Info("reading table ready", zap.String("channel", channel), zap.String("table", table))
	return nil
}

// Channels lists every channel that has a table, including ones created by earlier runs.
func (c *ChannelTables) Channels(ctx context.Context) ([]string, error) {
	var names []string
	err := c.db.WithContext(ctx).Model(&entities.ChannelCatalog{}).Order("name").Pluck("name", &names).Error
	return names, err
}

// TableName derives a safe table name. Names that had to be rewritten get a hash
// suffix so two channels never share a table.
func TableName(channel string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(channel) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s != channel || len(s) > maxTableSuffix {
		if len(s) > maxTableSuffix {
			s = s[:maxTableSuffix]
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(channel))
		s = fmt.Sprintf("%s_%08x", s, h.Sum32())
	}
	return "readings_" + s
}
