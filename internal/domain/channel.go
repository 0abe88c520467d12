package domain

import "context"

// Transport is the chat I/O adapter (Telegram, console).
// It owns connection and retry concerns; Send* return once the message
// was delivered or finally failed.
type Transport interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	SendText(ctx context.Context, msg OutboundMessage) error
	SendPhoto(ctx context.Context, photo OutboundPhoto) error
}
