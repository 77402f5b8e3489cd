package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/config"
	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/arbitrator"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/history"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/irrigation"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/persistence"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/telemetry"
	"github.com/LeonardoBeccarini/smartgarden/internal/store"
	"github.com/LeonardoBeccarini/smartgarden/pkg/adafruit"
	"github.com/LeonardoBeccarini/smartgarden/pkg/broker"
	"github.com/LeonardoBeccarini/smartgarden/pkg/dedup"
	"github.com/LeonardoBeccarini/smartgarden/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "smartgarden")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := cfg.Validate(); err != nil {
		lg.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- database ---
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		lg.Fatal("database connect failed", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		lg.Fatal("database migration failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		lg.Fatal("database handle", zap.Error(err))
	}
	defer sqlDB.Close()

	reg := registry.New(db, lg.Named("registry"))
	arb := arbitrator.New(db, lg.Named("arbitrator"))
	var locks *arbitrator.UserLocks
	if cfg.StrictUserOrdering {
		locks = arbitrator.NewUserLocks()
		arb.WithLocks(locks)
	}

	// --- persistence ---
	readings := persistence.NewReadingStore(db, lg.Named("readings"))
	writer := persistence.NewWriter(readings, cfg.PersistQueueSize, cfg.PersistWorkers, lg.Named("writer"))
	hub := app.NewHub(lg.Named("ws"))
	writer.AddMirror(hub)

	health := &app.Health{DB: sqlDB, Writer: writer, MinError: 30 * time.Second}
	var influx influxdb2.Client
	var mirror *persistence.InfluxMirror
	if cfg.InfluxEnabled() {
		influx = influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		mirror = persistence.NewInfluxMirror(influx, cfg.InfluxOrg, cfg.InfluxBucket, lg.Named("influx"))
		writer.AddMirror(mirror)
		health.Influx = mirror
	}
	writer.Start()

	// --- broker ---
	hooks := broker.NewConnectHooks()
	mqClient, err := broker.NewConn(ctx, broker.Config{
		BrokerURL: cfg.MQTTBroker,
		Username:  cfg.AIOUsername,
		Key:       cfg.AIOKey,
		ClientID:  cfg.MQTTClientID,
		QoS:       byte(cfg.MQTTQoS),
		Hooks:     hooks,
	}, lg.Named("mqtt"))
	if err != nil {
		lg.Fatal("mqtt connect failed", zap.Error(err))
	}
	health.MQTT = mqClient

	aio := adafruit.NewClient(adafruit.Config{
		BaseURL:    cfg.AIOBaseURL,
		Username:   cfg.AIOUsername,
		Key:        cfg.AIOKey,
		RetryCount: 2,
	}, lg.Named("adafruit"))

	var dispatcher irrigation.Dispatcher
	switch cfg.CommandTransport {
	case "rest":
		dispatcher = aio
	default:
		dispatcher = broker.NewPublisher(mqClient, cfg.AIOUsername, byte(cfg.MQTTQoS), lg.Named("publisher"))
	}

	// --- irrigation ---
	controller := irrigation.NewController(reg, reg, dispatcher, lg.Named("controller"))
	commander := irrigation.NewCommander(reg, arb, dispatcher, lg.Named("commands"))
	scheduleRepo := irrigation.NewScheduleRepo(db)
	scheduler := irrigation.NewScheduler(scheduleRepo, dispatcher, cfg.ScheduleChannel, cfg.Location(), lg.Named("scheduler"))
	schedules := irrigation.NewScheduleService(scheduleRepo, reg, reg, scheduler, lg.Named("schedules"))

	// --- telemetry ---
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(promReg)

	opts := []telemetry.Option{telemetry.WithMetrics(metrics)}
	if cfg.AutoIrrigation {
		opts = append(opts, telemetry.WithObserver(controller))
	}
	if locks != nil {
		opts = append(opts, telemetry.WithUserLocks(locks))
	}
	router := telemetry.NewRouter(reg, arb, writer, lg.Named("router"), opts...)

	var checker dedup.Checker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		checker = dedup.NewRedis(rdb, "smartgarden:dedup", cfg.DedupTTL, lg.Named("dedup"))
	} else {
		checker = dedup.New(cfg.DedupTTL, 10000)
	}

	topics := make([]string, 0, len(model.DefaultChannels))
	for _, ch := range model.DefaultChannels {
		topics = append(topics, broker.FeedTopic(cfg.AIOUsername, ch))
	}
	handler := telemetry.NewHandler(router, checker, lg.Named("ingest"))
	consumer := broker.NewMultiConsumer(mqClient, topics, byte(cfg.MQTTQoS), handler.Handle, lg.Named("consumer"))
	consumer.ResubscribeOn(hooks)
	go consumer.ConsumeMessage(ctx)

	fetcher := telemetry.NewFetcher(telemetry.FetcherConfig{
		Channels:   model.DefaultChannels,
		ActiveOnly: cfg.SaveForActiveDevicesOnly,
	}, aio, reg, arb, writer, router, metrics, lg.Named("fetcher"))
	if cfg.PollInterval > 0 {
		go fetcher.Run(ctx, cfg.PollInterval)
	}

	if err := scheduler.Start(ctx); err != nil {
		lg.Error("scheduler start failed", zap.Error(err))
	}

	// --- HTTP ---
	srv := app.NewServer(app.Deps{
		Registry:   reg,
		Arbitrator: arb,
		Readings:   readings,
		Fetcher:    fetcher,
		Controller: controller,
		Commander:  commander,
		Schedules:  schedules,
		History:    history.NewService(readings, reg, cfg.Location(), lg.Named("history")),
		Hub:        hub,
		Health:     health,
		Metrics:    promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		JWTSecret:  []byte(cfg.JWTSecret),
		Log:        lg.Named("http"),
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("HTTP listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	lg.Info("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	scheduler.Stop()
	writer.Close()
	if mirror != nil {
		mirror.Flush()
		influx.Close()
	}
	lg.Info("shutdown complete")
}
