package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/config"
	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	simulator "github.com/LeonardoBeccarini/smartgarden/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/smartgarden/pkg/broker"
	"github.com/LeonardoBeccarini/smartgarden/pkg/logger"
)

func main() {
	devices := flag.String("devices", "sim-1", "comma separated device ids")
	clientID := flag.String("client-id", "smartgarden-simulator", "MQTT client ID")
	interval := flag.Duration("interval", 30*time.Second, "publish interval")
	lat := flag.Float64("lat", 41.51109, "latitude used to seed soil moisture")
	lon := flag.Float64("lon", 12.37007, "longitude used to seed soil moisture")
	halfLife := flag.Duration("half-life", 2*time.Hour, "time for soil moisture to halve with the pump off")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "smartgarden-simulator")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hooks := broker.NewConnectHooks()
	client, err := broker.NewConn(ctx, broker.Config{
		BrokerURL: cfg.MQTTBroker,
		Username:  cfg.AIOUsername,
		Key:       cfg.AIOKey,
		ClientID:  *clientID,
		QoS:       byte(cfg.MQTTQoS),
		Hooks:     hooks,
	}, lg.Named("mqtt"))
	if err != nil {
		lg.Fatal("mqtt connect failed", zap.Error(err))
	}

	publisher := broker.NewPublisher(client, cfg.AIOUsername, byte(cfg.MQTTQoS), lg.Named("publisher"))
	defer publisher.Close()
	consumer := broker.NewMultiConsumer(client,
		[]string{broker.FeedTopic(cfg.AIOUsername, model.ChannelPumpMotor)}, byte(cfg.MQTTQoS), nil, lg.Named("consumer"))
	consumer.ResubscribeOn(hooks)

	// linear approximation of the half-life, per minute, on the [0..1] scale
	decay := 0.5 / halfLife.Minutes()

	sim := simulator.NewSimulator(consumer, publisher, lg.Named("simulator"))
	for _, id := range strings.Split(*devices, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		gen := simulator.NewDataGenerator(decay)
		if err := gen.SeedFromSoilGrids(ctx, *lat, *lon); err != nil {
			lg.Warn("soilgrids seed failed, using default", zap.String("device_id", id), zap.Error(err))
		}
		sim.AddDevice(id, gen)
	}

	lg.Info("simulator started", zap.String("devices", *devices), zap.Duration("interval", *interval))
	sim.Start(ctx, *interval)
}
