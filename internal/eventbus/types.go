package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicFlashLog        Topic = "flash.log"
	TopicFlashProgress   Topic = "flash.progress"
	TopicInstallComplete Topic = "install.complete"
)

// Source describes which component produced an event.
type Source string

const (
	SourceOrchestrator Source = "orchestrator"
	SourceResolver     Source = "resolver"
	SourcePatcher      Source = "patcher"
	SourceToolchain    Source = "toolchain"
	SourceServer       Source = "server"
	SourceUnknown      Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   any
}

// LogLevel mirrors the observer severity levels.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEvent carries one human-readable workflow log line.
type LogEvent struct {
	Message   string
	Level     LogLevel
	Timestamp time.Time
}

// ProgressEvent reports a milestone on the combined 0-100 progress bar.
type ProgressEvent struct {
	Percent int
}

// InstallCompleteEvent is published exactly once per install workflow.
type InstallCompleteEvent struct {
	Success bool
	Message string
}

// Flash groups the flashing topic descriptors.
var Flash = struct {
	Log             TopicDef[LogEvent]
	Progress        TopicDef[ProgressEvent]
	InstallComplete TopicDef[InstallCompleteEvent]
}{
	Log:             NewTopicDef[LogEvent](TopicFlashLog),
	Progress:        NewTopicDef[ProgressEvent](TopicFlashProgress),
	InstallComplete: NewTopicDef[InstallCompleteEvent](TopicInstallComplete),
}
