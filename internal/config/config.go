package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort  string `mapstructure:"http_port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Timezone  string `mapstructure:"timezone"`

	AIOUsername  string `mapstructure:"aio_username"`
	AIOKey       string `mapstructure:"aio_key"`
	AIOBaseURL   string `mapstructure:"aio_base_url"`
	MQTTBroker   string `mapstructure:"mqtt_broker"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`
	MQTTQoS      int    `mapstructure:"mqtt_qos"`

	SaveForActiveDevicesOnly bool          `mapstructure:"save_for_active_devices_only"`
	StrictUserOrdering       bool          `mapstructure:"strict_user_ordering"`
	AutoIrrigation           bool          `mapstructure:"auto_irrigation"`
	CommandTransport         string        `mapstructure:"command_transport"`
	ScheduleChannel          string        `mapstructure:"schedule_channel"`
	PollInterval             time.Duration `mapstructure:"poll_interval"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	InfluxURL    string `mapstructure:"influx_url"`
	InfluxToken  string `mapstructure:"influx_token"`
	InfluxOrg    string `mapstructure:"influx_org"`
	InfluxBucket string `mapstructure:"influx_bucket"`

	RedisAddr string        `mapstructure:"redis_addr"`
	DedupTTL  time.Duration `mapstructure:"dedup_ttl"`

	PersistQueueSize int `mapstructure:"persist_queue_size"`
	PersistWorkers   int `mapstructure:"persist_workers"`
}

var defaults = map[string]any{
	"http_port":                    "8080",
	"log_level":                    "info",
	"log_format":                   "json",
	"jwt_secret":                   "",
	"timezone":                     "UTC",
	"aio_username":                 "",
	"aio_key":                      "",
	"aio_base_url":                 "https://io.adafruit.com",
	"mqtt_broker":                  "ssl://io.adafruit.com:8883",
	"mqtt_client_id":               "smartgarden-backend",
	"mqtt_qos":                     1,
	"save_for_active_devices_only": true,
	"strict_user_ordering":         false,
	"auto_irrigation":              false,
	"command_transport":            "mqtt",
	"schedule_channel":             "schedule-status",
	"poll_interval":                "2m",
	"db_driver":                    "postgres",
	"db_dsn":                       "host=localhost user=garden password=garden dbname=garden port=5432 sslmode=disable TimeZone=UTC",
	"influx_url":                   "",
	"influx_token":                 "",
	"influx_org":                   "",
	"influx_bucket":                "",
	"redis_addr":                   "",
	"dedup_ttl":                    "10m",
	"persist_queue_size":           1024,
	"persist_workers":              4,
}

// Load reads defaults, an optional file named by GARDEN_CONFIG, then the environment
// (AIO_USERNAME, DB_DSN, ...).
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("GARDEN_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.AIOUsername = strings.TrimSpace(cfg.AIOUsername)
	cfg.AIOKey = strings.TrimSpace(cfg.AIOKey)
	return &cfg, nil
}

// Validate reports configuration the backend cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.AIOUsername == "" {
		errs = append(errs, errors.New("AIO_USERNAME is required"))
	}
	if c.AIOKey == "" {
		errs = append(errs, errors.New("AIO_KEY is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}
	switch c.CommandTransport {
	case "mqtt", "rest":
	default:
		errs = append(errs, fmt.Errorf("unsupported COMMAND_TRANSPORT %q", c.CommandTransport))
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 1 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0 or 1, got %d", c.MQTTQoS))
	}
	return errors.Join(errs...)
}

// InfluxEnabled reports whether readings are mirrored to InfluxDB.
func (c *Config) InfluxEnabled() bool {
	return c.InfluxURL != "" && c.InfluxToken != "" && c.InfluxOrg != "" && c.InfluxBucket != ""
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
