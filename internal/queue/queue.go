// Package queue defines the delivery-queue surface that decouples "cache
// miss detected" from "cache populated". Delivery is at-least-once; every
// consumer must tolerate duplicated and reordered messages.
package queue

import (
	"context"

	"github.com/springfiles/edgecache/internal/model"
)

// RequestTypeAttr is the message attribute marking a sync request.
const (
	RequestTypeAttr  = "requestType"
	RequestTypeValue = "SyncRequest"
)

type Publisher interface {
	Publish(ctx context.Context, req model.SyncRequest) error
	Close() error
}

// NopPublisher discards everything. Used when no queue is configured and in
// tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.SyncRequest) error { return nil }
func (NopPublisher) Close() error                                     { return nil }
