package bot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Sender delivers a direct message. Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// BroadcastResult counts the outcome of a broadcast.
type BroadcastResult struct {
	Sent   int
	Failed int
}

// Broadcaster sends one text to many recipients. Sends are paced so that
// recipients are started no faster than one per delay, whatever the
// number of workers.
type Broadcaster struct {
	sender  Sender
	limiter *rate.Limiter
	workers int
	metrics *metrics.Recorder
}

// NewBroadcaster creates a Broadcaster. A zero delay disables pacing.
func NewBroadcaster(sender Sender, delay time.Duration, workers int, m *metrics.Recorder) *Broadcaster {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Broadcaster{
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		workers: workers,
		metrics: m,
	}
}

// Send delivers text to every recipient, continuing past individual
// failures. It stops early only when ctx is cancelled; recipients not
// attempted by then count as failed.
func (b *Broadcaster) Send(ctx context.Context, recipients []string, text string) BroadcastResult {
	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(b.workers)
	for _, to := range recipients {
		g.Go(func() error {
			if err := b.limiter.Wait(ctx); err != nil {
				failed.Add(1)
				return nil
			}
			if err := b.sender.Send(ctx, OutboundMessage{To: to, Text: text}); err != nil {
				failed.Add(1)
				log.Warn().Err(err).Str("identity", to).Msg("bot: broadcast send failed")
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	b.metrics.Broadcast(res.Sent, res.Failed)
	log.Info().Int("sent", res.Sent).Int("failed", res.Failed).Msg("bot: broadcast finished")
	return res
}
