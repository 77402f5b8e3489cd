package broker

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one delivery. Returned errors are logged, never retried.
type Handler func(topic string, message mqtt.Message) error

// IConsumer is implemented by subscribers that block until ctx is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// MultiConsumer subscribes one handler to several topics.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	qos     byte
	handler Handler
	log     *zap.Logger
}

func NewMultiConsumer(client mqtt.Client, topics []string, qos byte, handler Handler, log *zap.Logger) *MultiConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &MultiConsumer{client: client, topics: topics, qos: qos, handler: handler, log: log}
}

func (m *MultiConsumer) SetHandler(handler Handler) {
	m.handler = handler
}

// ResubscribeOn makes every later connect re-issue this consumer's subscriptions.
func (m *MultiConsumer) ResubscribeOn(hooks *ConnectHooks) {
	hooks.Add(m.subscribe)
}

// ConsumeMessage subscribes to every topic and blocks until ctx is cancelled.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	m.subscribe(m.client)

	<-ctx.Done()

	if m.client.IsConnectionOpen() {
		m.client.Unsubscribe(m.topics...).WaitTimeout(timeout)
	}
}

func (m *MultiConsumer) subscribe(client mqtt.Client) {
	for _, topic := range m.topics {
		topic := topic
		token := client.Subscribe(topic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
			if m.handler == nil {
				m.log.Warn("no handler set", zap.String("topic", topic))
				return
			}
			if err := m.handler(msg.Topic(), msg); err != nil {
				m.log.Error("error handling message", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		token.Wait()
		if token.Error() != nil {
			m.log.Error("subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
			continue
		}
		m.log.Info("subscribed", zap.String("topic", topic), zap.Uint8("qos", m.qos))
	}
}
