package domain

import "time"

// InboundMessage is a text message received from the chat transport.
// The router only reads it.
type InboundMessage struct {
	Channel    string
	ChatID     string
	SenderID   string
	SenderName string
	Content    string
	Timestamp  time.Time
}

// Text formats understood by the transports.
const (
	FormatPlain    = ""
	FormatMarkdown = "Markdown"
	FormatHTML     = "HTML"
)

type OutboundMessage struct {
	ChatID  string
	Content string
	Format  string // FormatPlain | FormatMarkdown | FormatHTML
}

// OutboundPhoto is an image attachment read from a local file.
type OutboundPhoto struct {
	ChatID  string
	Path    string
	Caption string
}
