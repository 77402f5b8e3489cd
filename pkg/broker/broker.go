package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config describes the connection to the cloud broker. Username is also the feed namespace.
type Config struct {
	BrokerURL string // e.g. ssl://io.adafruit.com:8883
	Username  string
	Key       string
	ClientID  string
	QoS       byte
	// Hooks run after every successful connect, reconnects included.
	Hooks *ConnectHooks
}

// ConnectHooks collects callbacks fired on each connect. A clean session drops
// subscriptions on reconnect, so subscribers re-register through here.
type ConnectHooks struct {
	mu  sync.Mutex
	fns []func(mqtt.Client)
}

func NewConnectHooks() *ConnectHooks {
	return &ConnectHooks{}
}

func (h *ConnectHooks) Add(fn func(mqtt.Client)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Run calls every registered hook in registration order.
func (h *ConnectHooks) Run(client mqtt.Client) {
	h.mu.Lock()
	fns := append([]func(mqtt.Client){}, h.fns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(client)
	}
}

func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker: url is required")
	}
	if c.Username == "" || c.Key == "" {
		return errors.New("broker: username and key are required")
	}
	return nil
}

// NewConn connects with exponential backoff and disconnects when ctx is done.
func NewConn(ctx context.Context, cfg Config, log *zap.Logger) (mqtt.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Key)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	// handlers run in their own goroutine, a slow message never holds back the next one
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Debug("mqtt on-connect", zap.String("broker", cfg.BrokerURL))
		if cfg.Hooks != nil {
			cfg.Hooks.Run(c)
		}
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("mqtt reconnecting", zap.String("broker", cfg.BrokerURL))
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	const maxRetries = 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn("mqtt connect failed", zap.String("broker", cfg.BrokerURL), zap.Error(token.Error()))
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info("connected to MQTT broker", zap.String("broker", cfg.BrokerURL), zap.String("client_id", cfg.ClientID))

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
		log.Info("MQTT connection closed")
	}()

	return client, nil
}
