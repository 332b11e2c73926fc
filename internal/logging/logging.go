package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

var (
	level = new(slog.LevelVar)

	logger = slog.New(
		slog.NewTextHandler(
			os.Stderr, &slog.HandlerOptions{
				Level: level,
			},
		),
	)
)

func SetDebug(enable bool) {
	if enable {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func Infof(msg string, args ...any) {
	logger.Info(fmt.Sprintf(msg, args...))
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, err error, args ...any) {
	logger.Error(msg, append([]any{"error", err}, args...)...)
}

func Errorf(msg string, args ...any) {
	logger.Error(fmt.Sprintf(msg, args...))
}

func Fatalf(format string, v ...any) {
	logger.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Debugf(msg string, args ...any) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug(fmt.Sprintf(msg, args...))
}
