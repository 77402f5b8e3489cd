package sensor_simulator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
	"github.com/LeonardoBeccarini/smartgarden/pkg/broker"
	"github.com/LeonardoBeccarini/smartgarden/pkg/dedup"
)

// Publisher sends a value on a channel of the feed namespace.
type Publisher interface {
	Dispatch(ctx context.Context, channel, value string) error
}

// Simulator drives a fleet of simulated devices: it publishes their readings on every
// tick and follows pump-motor commands.
type Simulator struct {
	publisher Publisher
	consumer  broker.IConsumer
	deduper   dedup.Checker
	log       *zap.Logger

	mu      sync.Mutex
	devices map[string]*DataGenerator
	order   []string
}

func NewSimulator(consumer broker.IConsumer, publisher Publisher, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		log:       log,
		devices:   make(map[string]*DataGenerator),
	}
}

// AddDevice registers a simulated device. Call before Start.
func (s *Simulator) AddDevice(deviceID string, gen *DataGenerator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; !ok {
		s.order = append(s.order, deviceID)
	}
	s.devices[deviceID] = gen
}

// Start listens for pump commands and publishes a round of readings every interval
// until ctx is done.
func (s *Simulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go s.consumer.ConsumeMessage(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick publishes one sample per device. Soil moisture carries the device id,
// temperature and humidity are bare values.
func (s *Simulator) Tick(ctx context.Context) {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, id := range ids {
		gen := s.generator(id)
		sample := gen.Next()

		soil, _ := json.Marshal(messages.TelemetryPayload{DeviceID: id, Value: sample.SoilMoisture})
		s.publish(ctx, model.ChannelSoilMoisture, string(soil))
		s.publish(ctx, model.ChannelTemperature, formatFloat(sample.Temperature))
		s.publish(ctx, model.ChannelHumidity, formatFloat(sample.Humidity))

		s.log.Debug("sample published",
			zap.String("device_id", id),
			zap.Float64("soil_moisture", sample.SoilMoisture),
			zap.Bool("pump_on", gen.PumpOn()))
	}
}

func (s *Simulator) publish(ctx context.Context, channel, value string) {
	if err := s.publisher.Dispatch(ctx, channel, value); err != nil {
		s.log.Error("publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

func (s *Simulator) generator(id string) *DataGenerator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id]
}

// handleMessage applies a pump-motor command. A command naming a device affects only
// that device, a bare value affects the whole fleet.
func (s *Simulator) handleMessage(topic string, msg mqtt.Message) error {
	if msg.Retained() {
		return nil
	}
	if msg.Qos() > 0 && msg.MessageID() != 0 {
		first := s.deduper.ShouldProcess(context.Background(), dedup.MessageKey(topic, msg.MessageID(), msg.Payload()))
		if !first && msg.Duplicate() {
			return nil
		}
	}
	if broker.ChannelFromTopic(topic) != model.ChannelPumpMotor {
		return nil
	}
	t, err := messages.ParseTelemetry(model.ChannelPumpMotor, msg.Payload(), time.Now())
	if err != nil {
		return err
	}
	var on bool
	switch t.Value {
	case "1":
		on = true
	case "0":
	default:
		s.log.Warn("ignoring pump command", zap.String("value", t.Value))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, gen := range s.devices {
		if t.DeviceHint != "" && t.DeviceHint != id {
			continue
		}
		gen.SetPump(on)
		s.log.Info("pump switched", zap.String("device_id", id), zap.Bool("on", on))
	}
	return nil
}

func formatFloat(v float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}
