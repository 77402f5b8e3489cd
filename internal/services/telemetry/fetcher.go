package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
	"github.com/LeonardoBeccarini/smartgarden/pkg/adafruit"
)

const skipNotActive = "Not active device"

// FeedSource returns the newest datum of a feed.
type FeedSource interface {
	Latest(ctx context.Context, feed string) (adafruit.Datum, error)
}

// ReadingPersister stores a reading synchronously and hands it to the mirrors.
type ReadingPersister interface {
	Persist(ctx context.Context, r *entities.Reading) error
}

// DeviceReader loads a device owned by a user.
type DeviceReader interface {
	GetUserDevice(ctx context.Context, userID, id string) (*entities.Device, error)
}

type ChannelResult struct {
	Success  bool   `json:"success"`
	Value    string `json:"value,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	SavedID  string `json:"savedId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type FetchResult struct {
	DeviceID string                   `json:"deviceId"`
	Skipped  bool                     `json:"skipped,omitempty"`
	Reason   string                   `json:"reason,omitempty"`
	Results  map[string]ChannelResult `json:"results,omitempty"`
}

type FetcherConfig struct {
	// Channels polled by Poll.
	Channels []string
	// ActiveOnly skips on-demand fetches for devices that are not active.
	ActiveOnly  bool
	Concurrency int
}

// Fetcher pulls the latest feed values over REST, either on demand for one device or
// periodically for every channel through the router.
type Fetcher struct {
	cfg     FetcherConfig
	source  FeedSource
	devices DeviceReader
	active  ActiveDevices
	store   ReadingPersister
	router  *Router
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]string
}

func NewFetcher(cfg FetcherConfig, source FeedSource, devices DeviceReader, active ActiveDevices,
	store ReadingPersister, router *Router, metrics *Metrics, log *zap.Logger) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		source:   source,
		devices:  devices,
		active:   active,
		store:    store,
		router:   router,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		lastSeen: make(map[string]string),
	}
}

// FetchDevice reads the latest value of each channel of the device and stores it
// under that device. Per-channel failures are reported, not returned.
func (f *Fetcher) FetchDevice(ctx context.Context, userID, deviceID string) (*FetchResult, error) {
	dev, err := f.devices.GetUserDevice(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if f.cfg.ActiveOnly {
		activeID, ok, err := f.active.GetActive(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ok || activeID != dev.ID {
			f.log.Info("skipping fetch for inactive device", zap.String("device_id", dev.ID))
			return &FetchResult{DeviceID: dev.ID, Skipped: true, Reason: skipNotActive}, nil
		}
	}

	channels := dev.Feeds
	results := make([]ChannelResult, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = f.fetchOne(gctx, dev, ch)
			return nil
		})
	}
	_ = g.Wait()

	out := &FetchResult{DeviceID: dev.ID, Results: make(map[string]ChannelResult, len(channels))}
	for i, ch := range channels {
		out.Results[ch] = results[i]
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, dev *entities.Device, channel string) ChannelResult {
	datum, err := f.source.Latest(ctx, channel)
	f.metrics.fetched(channel, err == nil)
	if err != nil {
		if !errors.Is(err, adafruit.ErrNoData) {
			f.log.Warn("feed fetch failed", zap.String("channel", channel), zap.Error(err))
		}
		return ChannelResult{Error: err.Error()}
	}
	t, err := messages.ParseTelemetry(channel, []byte(datum.Value), f.now())
	if err != nil {
		return ChannelResult{Error: err.Error()}
	}
	if t.DeviceHint != "" && t.DeviceHint != dev.ID {
		return ChannelResult{Error: "latest value belongs to device " + t.DeviceHint}
	}

	userID := dev.UserID
	r := entities.Reading{UserID: &userID, DeviceID: dev.ID, Channel: channel, Value: t.Value, CreatedAt: f.now().UTC()}
	if err := f.store.Persist(ctx, &r); err != nil {
		f.log.Error("failed to store fetched reading", zap.String("channel", channel), zap.Error(err))
		return ChannelResult{Value: t.Value, Error: err.Error()}
	}
	return ChannelResult{Success: true, Value: t.Value, DeviceID: dev.ID, SavedID: r.ID.String()}
}

// Poll fetches every configured channel once and routes datums not seen before.
func (f *Fetcher) Poll(ctx context.Context) []Outcome {
	var outcomes []Outcome
	for _, ch := range f.cfg.Channels {
		datum, err := f.source.Latest(ctx, ch)
		f.metrics.fetched(ch, err == nil)
		if err != nil {
			if !errors.Is(err, adafruit.ErrNoData) {
				f.log.Warn("poll fetch failed", zap.String("channel", ch), zap.Error(err))
			}
			continue
		}
		if !f.markSeen(ch, datum.ID) {
			continue
		}
		outcomes = append(outcomes, f.router.RouteRaw(ctx, ch, []byte(datum.Value)))
	}
	return outcomes
}

func (f *Fetcher) markSeen(channel, datumID string) bool {
	if datumID == "" {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSeen[channel] == datumID {
		return false
	}
	f.lastSeen[channel] = datumID
	return true
}

// Run polls every interval until ctx is done.
func (f *Fetcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcomes := f.Poll(ctx)
			accepted := 0
			for _, o := range outcomes {
				if o.Accepted {
					accepted++
				}
			}
			f.log.Debug("poll cycle done", zap.Int("routed", len(outcomes)), zap.Int("accepted", accepted))
		}
	}
}
