package router

// Fixed replies. Provider failures never surface raw errors to the chat.
const (
	PingReply = "Pong! 🏓"

	StatusFailure = "❌ Failed to collect system status. Please try again."

	ScreenshotAck     = "📸 Capturing screenshot..."
	ScreenshotCaption = "📸 Screenshot captured!"
	ScreenshotFailure = "❌ Failed to capture screenshot. Likely causes:\n" +
		"• No graphical session (DISPLAY / WAYLAND_DISPLAY not set)\n" +
		"• No screenshot tool installed (scrot, gnome-screenshot, ImageMagick, grim)\n" +
		"• Windows session locked or PowerShell unavailable"

	WSLAck     = "🐧 Capturing screenshot via WSL..."
	WSLCaption = "🐧 WSL screenshot captured!"
	WSLFailure = "❌ WSL screenshot failed. Check:\n" +
		"• The bot runs inside WSL, or wsl.exe is reachable\n" +
		"• X11 or Wayland is configured\n" +
		"• A screenshot tool is installed\n" +
		"• Windows is not locked"

	LogsFailure = "❌ Failed to fetch logs. Please try again."

	apologyFormat      = "❌ Something went wrong while handling /%s. Please try again."
	sendFallbackFormat = "❌ Failed to send log: %v\n\n%s..."
	sendFallbackHead   = 500
	layoutHead         = 500
)
