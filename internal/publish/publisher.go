// Package publish fans a report out to every enabled channel through the
// durable outbox: enqueue first (the message is safe on disk), then attempt
// immediate delivery.
package publish

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rankwatch/internal/outbox"
)

// Sender is one delivery channel. Implementations decide for themselves
// whether they are configured; the publisher never inspects credentials.
type Sender interface {
	Name() string
	Send(ctx context.Context, message string) outbox.Outcome
}

type Publisher struct {
	box     *outbox.Outbox
	senders map[string]Sender
	targets []string
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New builds a publisher for the given enabled targets. ratePerSec caps
// outgoing sends across all channels (messaging APIs throttle aggressively);
// zero or negative means one send per second.
func New(box *outbox.Outbox, targets []string, ratePerSec int, log zerolog.Logger) *Publisher {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Publisher{
		box:     box,
		senders: map[string]Sender{},
		targets: targets,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

func (p *Publisher) Register(senders ...Sender) {
	for _, s := range senders {
		p.senders[s.Name()] = s
	}
}

// Publish enqueues the report in each enabled channel's outbox and attempts
// immediate delivery. The report is durable once enqueued, so the caller
// always proceeds to persist the run's state afterwards.
func (p *Publisher) Publish(ctx context.Context, report string) {
	for _, channel := range p.targets {
		if err := p.box.Enqueue(channel, report); err != nil {
			p.log.Error().Err(err).Str("channel", channel).Msg("enqueue failed")
			continue
		}
		sender, ok := p.senders[channel]
		if !ok {
			p.log.Warn().Str("channel", channel).Msg("no sender registered, message queued for manual intervention")
			continue
		}
		p.drain(ctx, channel, sender)
	}
}

// DrainAll retries every registered channel's pending message. Called at the
// start of a run to recover from previously failed deliveries.
func (p *Publisher) DrainAll(ctx context.Context) {
	for _, channel := range p.targets {
		sender, ok := p.senders[channel]
		if !ok {
			continue
		}
		p.drain(ctx, channel, sender)
	}
}

func (p *Publisher) drain(ctx context.Context, channel string, sender Sender) {
	p.box.Drain(channel, func(message string) outbox.Outcome {
		if err := p.limiter.Wait(ctx); err != nil {
			return outbox.Failed
		}
		return sender.Send(ctx, message)
	})
}
