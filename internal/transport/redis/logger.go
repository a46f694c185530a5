package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// slogLogger adapts go-redis internal logging to slog
type slogLogger struct{}

func (slogLogger) Printf(ctx context.Context, format string, v ...any) {
	slog.WarnContext(ctx, strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "go-redis")
}

var installLogger sync.Once

// InstallLogger routes go-redis internal messages through slog at warn level
func InstallLogger() {
	installLogger.Do(func() {
		goredis.SetLogger(slogLogger{})
	})
}
