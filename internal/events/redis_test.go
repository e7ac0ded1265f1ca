package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisPublisher_PublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	pub, err := NewRedisPublisher(ctx, mr.Addr(), "test.events")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "test.events")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := SessionCreated("s1", "alice")
	if err := pub.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ps.Channel():
		var got Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if got.Type != TypeSessionCreated {
			t.Errorf("type = %q, want %q", got.Type, TypeSessionCreated)
		}
		if got.SessionID != "s1" {
			t.Errorf("session id = %q, want s1", got.SessionID)
		}
		if got.Data["user_id"] != "alice" {
			t.Errorf("data = %v", got.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received on channel")
	}
}

func TestRedisPublisher_DefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher(context.Background(), mr.Addr(), "")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()
	if pub.channel != DefaultRedisChannel {
		t.Errorf("channel = %q, want %q", pub.channel, DefaultRedisChannel)
	}
}

func TestNewRedisPublisher_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := NewRedisPublisher(ctx, "127.0.0.1:1", ""); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
