package daemon

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/catflash/catflash/internal/config"
)

// SetupLogging sends the standard logger to stdout and to a rotated file in
// the instance logs directory. The returned closer flushes the file.
func SetupLogging(paths config.InstancePaths) (io.Closer, error) {
	if err := os.MkdirAll(paths.Logs, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}

	logFile := &lumberjack.Logger{
		Filename:   paths.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== catflashd starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", paths.LogFile)
	return logFile, nil
}
