package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// fakeClient keeps subscriptions like a clean-session broker: dropSession forgets them all.
type fakeClient struct {
	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return doneToken{} }
func (c *fakeClient) Disconnect(uint)        {}
func (c *fakeClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	return doneToken{}
}
func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	return doneToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return doneToken{}
}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) dropSession() {
	c.mu.Lock()
	c.subs = map[string]mqtt.MessageHandler{}
	c.mu.Unlock()
}

// deliver reports whether a subscription existed for topic.
func (c *fakeClient) deliver(topic, payload string) bool {
	c.mu.Lock()
	cb, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cb(c, testMessage{topic: topic, payload: payload})
	return true
}

type testMessage struct {
	topic   string
	payload string
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 1 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return m.topic }
func (m testMessage) MessageID() uint16 { return 1 }
func (m testMessage) Payload() []byte   { return []byte(m.payload) }
func (m testMessage) Ack()              {}

func TestConsumerResubscribesAfterReconnect(t *testing.T) {
	client := newFakeClient()
	hooks := NewConnectHooks()
	topic := FeedTopic("gardener", "sensor-soil")

	var mu sync.Mutex
	var got []string
	consumer := NewMultiConsumer(client, []string{topic}, 1, func(_ string, msg mqtt.Message) error {
		mu.Lock()
		got = append(got, string(msg.Payload()))
		mu.Unlock()
		return nil
	}, nil)
	consumer.ResubscribeOn(hooks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.ConsumeMessage(ctx)

	require.Eventually(t, func() bool { return client.deliver(topic, "before") }, time.Second, 5*time.Millisecond)

	client.dropSession()
	assert.False(t, client.deliver(topic, "lost"))

	hooks.Run(client)
	require.True(t, client.deliver(topic, "after"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "after"}, got)
}

func TestConnectHooksRunInOrder(t *testing.T) {
	hooks := NewConnectHooks()
	var order []int
	hooks.Add(func(mqtt.Client) { order = append(order, 1) })
	hooks.Add(func(mqtt.Client) { order = append(order, 2) })

	hooks.Run(newFakeClient())
	hooks.Run(newFakeClient())

	assert.Equal(t, []int{1, 2, 1, 2}, order)
}
