package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration10Milliseconds  = 10 * time.Millisecond
	Duration100Milliseconds = 100 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration60Seconds = 60 * time.Second

	Duration2Minutes  = 2 * time.Minute
	Duration5Minutes  = 5 * time.Minute
	Duration10Minutes = 10 * time.Minute
)

// Toolchain command timeouts.
const (
	ToolchainDefaultTimeout   = Duration5Minutes
	ToolchainBoardListTimeout = Duration30Seconds
	ToolchainCompileTimeout   = Duration10Minutes
	ToolchainUploadTimeout    = Duration2Minutes
	ToolchainWaitDelay        = Duration5Seconds
)

// Network and service timeouts.
const (
	DownloadTimeout        = Duration5Minutes
	HTTPReadHeaderTimeout  = Duration10Seconds
	HTTPShutdownTimeout    = Duration5Seconds
	WebSocketWriteTimeout  = Duration10Seconds
	WebSocketPongTimeout   = Duration60Seconds
	WebSocketPingInterval  = (WebSocketPongTimeout * 9) / 10
	StoreQueryTimeout      = Duration5Seconds
	ServiceShutdownTimeout = Duration5Seconds
)
