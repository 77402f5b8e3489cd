package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const timeout = 5 * time.Second

// Publisher sends values to channels in one user's feed namespace.
type Publisher struct {
	client   mqtt.Client
	username string
	qos      byte
	log      *zap.Logger
}

func NewPublisher(client mqtt.Client, username string, qos byte, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, username: username, qos: qos, log: log}
}

// Dispatch publishes value on the channel's feed topic.
func (p *Publisher) Dispatch(ctx context.Context, channel, value string) error {
	topic := FeedTopic(p.username, channel)
	token := p.client.Publish(topic, p.qos, false, value)

	wait := timeout
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.log.Debug("published", zap.String("topic", topic), zap.String("value", value))
	return nil
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("MQTT client disconnected")
	}
}
