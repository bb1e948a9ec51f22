package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"

	"github.com/springfiles/edgecache/internal/config"
	"github.com/springfiles/edgecache/internal/model"
)

func msgWith(t *testing.T, v any) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "asset-sync", Value: b}
}

func TestProcessOne_DeliversValidRequests(t *testing.T) {
	var got model.SyncRequest
	c := NewConsumer(config.QueueCfg{}, slog.New(slog.DiscardHandler),
		func(_ context.Context, req model.SyncRequest) error {
			got = req
			return nil
		})

	err := c.processOne(context.Background(), msgWith(t, model.SyncRequest{Category: "map", Springname: "Aberdeen3v3v3"}))
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if got.Springname != "Aberdeen3v3v3" {
		t.Fatalf("handler got %+v", got)
	}
}

func TestProcessOne_AcksPoisonMessages(t *testing.T) {
	c := NewConsumer(config.QueueCfg{}, slog.New(slog.DiscardHandler),
		func(context.Context, model.SyncRequest) error {
			t.Fatal("handler must not run for poison messages")
			return nil
		})

	cases := []*sarama.ConsumerMessage{
		{Topic: "asset-sync", Value: []byte("{not json")},
		msgWith(t, model.SyncRequest{Category: "map"}), // missing springname
	}
	for _, msg := range cases {
		if err := c.processOne(context.Background(), msg); err != nil {
			t.Errorf("poison message must be acked, got %v", err)
		}
	}
}

func TestProcessOne_PropagatesHandlerFailure(t *testing.T) {
	want := errors.New("transient")
	c := NewConsumer(config.QueueCfg{}, slog.New(slog.DiscardHandler),
		func(context.Context, model.SyncRequest) error { return want })

	err := c.processOne(context.Background(), msgWith(t, model.SyncRequest{Category: "map", Springname: "x"}))
	if !errors.Is(err, want) {
		t.Fatalf("err=%v want %v", err, want)
	}
}
