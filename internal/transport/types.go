// Package transport defines the adapter-neutral message channel types used
// by the bot core. The Telegram implementation lives in transport/telegram.
package transport

import "context"

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// SendOptions carries the per-message knobs the bot actually uses: an
// optional one-time reply keyboard (rows of button labels).
type SendOptions struct {
	ReplyKeyboard [][]string
	OneTime       bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
