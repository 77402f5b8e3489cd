package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduperTTL(t *testing.T) {
	ctx := context.Background()
	d := New(time.Minute, 10)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldProcess(ctx, "a"))
	assert.False(t, d.ShouldProcess(ctx, "a"))
	assert.True(t, d.ShouldProcess(ctx, ""), "empty ids are never deduplicated")
	assert.True(t, d.ShouldProcess(ctx, ""))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.ShouldProcess(ctx, "a"), "expired entry is processed again")
}

func TestDeduperCap(t *testing.T) {
	ctx := context.Background()
	d := New(time.Hour, 3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		assert.True(t, d.ShouldProcess(ctx, id))
	}
	assert.LessOrEqual(t, d.Len(), 3)
}

func TestMessageKey(t *testing.T) {
	k1 := MessageKey("u/feeds/sensor-soil", 7, []byte("42"))
	k2 := MessageKey("u/feeds/sensor-soil", 7, []byte("43"))
	k3 := MessageKey("u/feeds/sensor-soil", 8, []byte("42"))
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, k1, MessageKey("u/feeds/sensor-soil", 7, []byte("42")))
}

func TestRedisKeySingleSeparator(t *testing.T) {
	for _, prefix := range []string{"smartgarden:dedup", "smartgarden:dedup:"} {
		assert.Equal(t, "smartgarden:dedup:gardener/feeds/mode|42", NewRedis(nil, prefix, 0, nil).key("gardener/feeds/mode|42"), prefix)
	}
	assert.Equal(t, "42", NewRedis(nil, "", 0, nil).key("42"))
}
