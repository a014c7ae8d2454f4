package sandwich

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sandolabs/mega-sando/metrics"
	"go.uber.org/zap"
)

const (
	DefaultReconnectInitial = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
)

var ErrHeadStreamClosed = errors.New("head subscription closed")

// HeadSource is one connection to a node that can stream new heads.
type HeadSource interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

type Dialer func(ctx context.Context) (HeadSource, error)

// HeadStream delivers new heads to a handler and reconnects forever when the
// connection or the subscription fails.
type HeadStream struct {
	log              *zap.Logger
	dial             Dialer
	initialInterval  time.Duration
	maxInterval      time.Duration
	bufferedHeadSize int
}

func NewHeadStream(log *zap.Logger, dial Dialer, initialInterval, maxInterval time.Duration) *HeadStream {
	if initialInterval <= 0 {
		initialInterval = DefaultReconnectInitial
	}
	if maxInterval <= 0 {
		maxInterval = DefaultReconnectMax
	}
	return &HeadStream{
		log:              log.Named("heads"),
		dial:             dial,
		initialInterval:  initialInterval,
		maxInterval:      maxInterval,
		bufferedHeadSize: 16,
	}
}

func (h *HeadStream) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialInterval
	b.MaxInterval = h.maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Run blocks until ctx is cancelled. handler is called sequentially for every head.
func (h *HeadStream) Run(ctx context.Context, handler func(*types.Header)) error {
	bo := h.newBackOff(ctx)
	for {
		healthy, err := h.session(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if healthy {
			bo.Reset()
		}
		metrics.IncHeadReconnects()

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		h.log.Warn("Head stream lost, reconnecting", zap.Duration("wait", wait), zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection. It reports whether at least one head was delivered.
func (h *HeadStream) session(ctx context.Context, handler func(*types.Header)) (bool, error) {
	source, err := h.dial(ctx)
	if err != nil {
		return false, err
	}
	defer source.Close()

	heads := make(chan *types.Header, h.bufferedHeadSize)
	sub, err := source.SubscribeNewHead(ctx, heads)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()
	h.log.Info("Subscribed to new heads")

	healthy := false
	for {
		select {
		case <-ctx.Done():
			return healthy, ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return healthy, ErrHeadStreamClosed
			}
			return healthy, err
		case header := <-heads:
			healthy = true
			handler(header)
		}
	}
}
