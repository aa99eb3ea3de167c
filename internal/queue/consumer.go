package queue

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"propbot/internal/metrics"
	"propbot/internal/warpcast"
	logx "propbot/pkg/logx"
)

// Sender delivers one direct cast. *warpcast.Client implements it.
type Sender interface {
	SendDirectCast(ctx context.Context, recipient int64, message, idempotencyKey string) (warpcast.SendResult, error)
}

// Summary counts what one Consume call did.
type Summary struct {
	Processed int
	Sent      int
	Retried   int
	Dropped   int
}

type Consumer struct {
	q       *Queue
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger
}

// NewConsumer drains q through sender. ratePerSec <= 0 disables throttling.
func NewConsumer(q *Queue, sender Sender, ratePerSec float64, log logx.Logger) *Consumer {
	c := &Consumer{q: q, sender: sender, log: log}
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

// Consume processes up to limit pending tasks (0 = all), oldest first and
// one at a time. Every selected task ends up completed. A failed send
// re-enqueues the payload as a new task first.
func (c *Consumer) Consume(ctx context.Context, limit int) (Summary, error) {
	var sum Summary
	tasks, err := c.q.Pending(ctx, limit)
	if err != nil {
		return sum, err
	}
	if len(tasks) == 0 {
		c.log.Info("no pending tasks")
		return sum, nil
	}

	for _, t := range tasks {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return sum, err
			}
		}
		log := c.log.With(logx.String("task_id", t.ID))
		log.Debug("processing task")

		p, err := DecodePayload(t.Payload)
		if err != nil {
			log.Error("undecodable task payload, dropping", logx.Err(err))
			metrics.RecordTask("unknown", "dropped")
			sum.Dropped++
		} else if err := c.handle(ctx, p); err != nil {
			log.Error("task failed, retrying", logx.String("type", p.Type()), logx.Int64("recipient", p.RecipientID()), logx.Err(err))
			metrics.RecordTask(p.Type(), "retried")
			if _, rerr := c.q.Retry(ctx, t); rerr != nil {
				return sum, rerr
			}
			sum.Retried++
		} else {
			log.Info("direct cast sent", logx.String("type", p.Type()), logx.Int64("recipient", p.RecipientID()))
			metrics.RecordTask(p.Type(), "sent")
			sum.Sent++
		}

		if err := c.q.Complete(ctx, t.ID); err != nil {
			return sum, err
		}
		sum.Processed++
	}
	return sum, nil
}

func (c *Consumer) handle(ctx context.Context, p Payload) error {
	var msg string
	switch v := p.(type) {
	case *Notification:
		msg = FormatNotification(v)
	case *Invitation:
		msg = FormatInvitation(v)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}

	res, err := c.sender.SendDirectCast(ctx, p.RecipientID(), msg, IdempotencyKey(msg))
	if err != nil {
		return err
	}
	if !res.Success {
		return warpcast.ErrSendUnsuccessful
	}
	return nil
}

// LogSender logs messages instead of sending them.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) SendDirectCast(ctx context.Context, recipient int64, message, idempotencyKey string) (warpcast.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return warpcast.SendResult{}, err
	}
	s.Log.Info("dry-run direct cast",
		logx.Int64("recipient", recipient),
		logx.String("idempotency_key", idempotencyKey),
		logx.String("message", message),
	)
	return warpcast.SendResult{Success: true}, nil
}

var _ Sender = (*warpcast.Client)(nil)
var _ Sender = LogSender{}
