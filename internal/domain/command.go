package domain

// Registered chat commands, without the leading "/".
const (
	CmdPing          = "ping"
	CmdStatus        = "status"
	CmdScreenshot    = "screenshot"
	CmdWSLScreenshot = "wsl_screenshot"
	CmdLogs          = "logs"
)

// CommandPrefix starts every command token.
const CommandPrefix = "/"

// Commands lists the registered commands in registration order.
var Commands = []string{CmdPing, CmdStatus, CmdScreenshot, CmdWSLScreenshot, CmdLogs}
