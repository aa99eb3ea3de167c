// Package transport carries operator-facing messages (ops alerts) out of
// propbot. Subscriber notifications go through the Warpcast sender instead.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender posts plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Alerter binds a Sender to one fixed target so it can serve as a
// logx.AlertSender.
type Alerter struct {
	Sender Sender
	Target ChatTarget
}

func (a Alerter) SendAlert(ctx context.Context, text string) error {
	if a.Sender == nil || a.Target.ChatID == 0 {
		return nil
	}
	_, err := a.Sender.SendText(ctx, a.Target, text, &SendOptions{DisablePreview: true})
	return err
}
