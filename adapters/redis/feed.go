// Package redis provides an adapter to redis client
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sandolabs/mega-sando/metrics"
	"github.com/sandolabs/mega-sando/sandwich"
	"go.uber.org/zap"
)

const DefaultOpportunityChannel = "sando:opportunities"

var ErrEmptyMessage = errors.New("empty opportunity message")

// SandwichSink receives decoded opportunities, usually the bot state.
type SandwichSink interface {
	AddPending(s sandwich.PendingSandwich) error
}

// OpportunityFeed reads pending sandwiches published by detectors on a redis channel.
type OpportunityFeed struct {
	log     *zap.Logger
	client  *redis.Client
	channel string
	sink    SandwichSink

	initialInterval time.Duration
	maxInterval     time.Duration
}

func NewOpportunityFeed(log *zap.Logger, client *redis.Client, channel string, sink SandwichSink) *OpportunityFeed {
	if channel == "" {
		channel = DefaultOpportunityChannel
	}
	return &OpportunityFeed{
		log:             log.Named("feed").With(zap.String("channel", channel)),
		client:          client,
		channel:         channel,
		sink:            sink,
		initialInterval: sandwich.DefaultReconnectInitial,
		maxInterval:     sandwich.DefaultReconnectMax,
	}
}

// DecodeOpportunity parses one published message.
func DecodeOpportunity(payload string) (sandwich.PendingSandwich, error) {
	var s sandwich.PendingSandwich
	if payload == "" {
		return s, ErrEmptyMessage
	}
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// Run blocks until ctx is cancelled, resubscribing with backoff when the
// connection to redis fails.
func (f *OpportunityFeed) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval
	b.MaxInterval = f.maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	bo := backoff.WithContext(b, ctx)

	for {
		received, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		f.log.Warn("Opportunity feed lost, resubscribing", zap.Duration("wait", wait), zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *OpportunityFeed) session(ctx context.Context) (bool, error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// wait for the subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, err
	}
	f.log.Info("Subscribed to opportunity feed")

	received := false
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return received, err
		}
		received = true
		f.handle(msg.Payload)
	}
}

func (f *OpportunityFeed) handle(payload string) {
	s, err := DecodeOpportunity(payload)
	if err != nil {
		metrics.IncSandwichesRejected()
		f.log.Warn("Malformed opportunity", zap.Error(err), zap.Int("size", len(payload)))
		return
	}
	if err := f.sink.AddPending(s); err != nil {
		f.log.Debug("Opportunity rejected", zap.String("id", s.ID), zap.Error(err))
		return
	}
	f.log.Debug("Opportunity added", zap.String("id", s.ID), zap.Int("legs", len(s.Legs)))
}

// Publish is used by detectors and tests to push an opportunity to the feed.
func Publish(ctx context.Context, client *redis.Client, channel string, s sandwich.PendingSandwich) error {
	if channel == "" {
		channel = DefaultOpportunityChannel
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, data).Err()
}
