package adafruit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://io.adafruit.com"

// ErrNoData means the feed exists but holds no datum yet.
var ErrNoData = errors.New("adafruit: feed has no data")

type Config struct {
	BaseURL    string
	Username   string
	Key        string
	Timeout    time.Duration
	RetryCount int

	// breaker
	MaxFailures int
	OpenTimeout time.Duration
	Interval    time.Duration
}

// Datum is one value stored in a feed.
type Datum struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	FeedKey   string    `json:"feed_key"`
	CreatedAt time.Time `json:"created_at"`
}

type apiError struct {
	Error string `json:"error"`
}

// Client talks to the Adafruit IO REST API behind a circuit breaker.
type Client struct {
	http     *resty.Client
	cb       *gobreaker.CircuitBreaker
	username string
	log      *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("X-AIO-Key", cfg.Key).
		SetHeader("Accept", "application/json").
		SetPathParam("username", cfg.Username)

	maxFailures := uint32(cfg.MaxFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "adafruit-io",
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{http: httpClient, cb: cb, username: cfg.Username, log: log}
}

// Latest returns the most recent datum of a feed.
func (c *Client) Latest(ctx context.Context, feed string) (Datum, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		var out []Datum
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("feed", feed).
			SetQueryParam("limit", "1").
			SetResult(&out).
			SetError(&apiErr).
			Get("/api/v2/{username}/feeds/{feed}/data")
		if err != nil {
			return nil, fmt.Errorf("adafruit: get %s: %w", feed, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("adafruit: get %s: HTTP %d %s", feed, resp.StatusCode(), apiErr.Error)
		}
		if len(out) == 0 {
			return nil, ErrNoData
		}
		return out[0], nil
	})
	if err != nil {
		c.log.Debug("adafruit latest failed", zap.String("feed", feed), zap.Error(err))
		return Datum{}, err
	}
	return res.(Datum), nil
}

// Dispatch posts a value to a feed.
func (c *Client) Dispatch(ctx context.Context, feed, value string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("feed", feed).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{"value": value}).
			SetError(&apiErr).
			Post("/api/v2/{username}/feeds/{feed}/data")
		if err != nil {
			return nil, fmt.Errorf("adafruit: post %s: %w", feed, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("adafruit: post %s: HTTP %d %s", feed, resp.StatusCode(), apiErr.Error)
		}
		return nil, nil
	})
	return err
}

// State exposes the breaker state for health reporting.
func (c *Client) State() string {
	return c.cb.State().String()
}
