package telemetry

import (
	"context"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smartgarden/pkg/broker"
	"github.com/LeonardoBeccarini/smartgarden/pkg/dedup"
)

// Handler adapts the router to broker deliveries.
type Handler struct {
	router *Router
	dedup  dedup.Checker
	log    *zap.Logger
}

func NewHandler(router *Router, checker dedup.Checker, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{router: router, dedup: checker, log: log}
}

// Handle satisfies broker.Handler. Routing rejections are logged by the router and
// never returned, so one bad message cannot affect the subscription.
func (h *Handler) Handle(topic string, msg mqtt.Message) error {
	if msg.Retained() {
		h.log.Debug("skipping retained message", zap.String("topic", topic))
		return nil
	}
	if h.isRedelivery(msg) {
		h.log.Debug("dropping redelivered message",
			zap.String("topic", topic), zap.String("message_id", strconv.Itoa(int(msg.MessageID()))))
		return nil
	}
	h.router.RouteRaw(context.Background(), broker.ChannelFromTopic(topic), msg.Payload())
	return nil
}

// isRedelivery records every QoS>0 delivery and reports true only for a DUP-flagged
// copy of one already seen.
func (h *Handler) isRedelivery(msg mqtt.Message) bool {
	if h.dedup == nil || msg.Qos() == 0 || msg.MessageID() == 0 {
		return false
	}
	key := dedup.MessageKey(msg.Topic(), msg.MessageID(), msg.Payload())
	seen := !h.dedup.ShouldProcess(context.Background(), key)
	return seen && msg.Duplicate()
}
