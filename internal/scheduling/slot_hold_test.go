package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestSlotHoldAcquireRelease(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	hold := NewSlotHold(client, time.Minute, nil)
	staffID := uuid.New()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	if !hold.Acquire(context.Background(), staffID, day, "10:00") {
		t.Fatal("first acquire should succeed")
	}
	if hold.Acquire(context.Background(), staffID, day, "10:00") {
		t.Fatal("second acquire of the same slot should fail")
	}
	if !hold.Acquire(context.Background(), staffID, day, "11:00") {
		t.Fatal("different slot should be independent")
	}

	hold.Release(context.Background(), staffID, day, "10:00")
	if !hold.Acquire(context.Background(), staffID, day, "10:00") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestSlotHoldExpires(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	hold := NewSlotHold(client, time.Second, nil)
	staffID := uuid.New()
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	if !hold.Acquire(context.Background(), staffID, day, "10:00") {
		t.Fatal("acquire should succeed")
	}
	srv.FastForward(2 * time.Second)
	if !hold.Acquire(context.Background(), staffID, day, "10:00") {
		t.Fatal("acquire after TTL expiry should succeed")
	}
}

func TestSlotHoldDisabled(t *testing.T) {
	hold := NewSlotHold(nil, time.Minute, nil)
	if !hold.Acquire(context.Background(), uuid.New(), time.Now(), "10:00") {
		t.Fatal("disabled hold should always acquire")
	}
}
