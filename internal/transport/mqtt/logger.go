package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// slogLogger adapts paho's package loggers to slog
type slogLogger struct {
	level slog.Level
}

func (l slogLogger) Println(v ...any) {
	l.log(fmt.Sprintln(v...))
}

func (l slogLogger) Printf(format string, v ...any) {
	l.log(fmt.Sprintf(format, v...))
}

func (l slogLogger) log(msg string) {
	slog.Log(context.Background(), l.level, strings.TrimSpace(msg), "component", "paho")
}

var installLoggers sync.Once

// InstallLogger routes paho's error, critical and warning output through slog.
// Debug output stays disabled.
func InstallLogger() {
	installLoggers.Do(func() {
		paho.ERROR = slogLogger{level: slog.LevelError}
		paho.CRITICAL = slogLogger{level: slog.LevelError}
		paho.WARN = slogLogger{level: slog.LevelWarn}
	})
}
