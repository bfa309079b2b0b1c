package main

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Wikid82/keyroom/internal/config"
	"github.com/Wikid82/keyroom/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging sends logs to stdout and a rotated file under cfg.LogDir.
func setupLogging(cfg config.Config) io.Closer {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Init(cfg.Debug, os.Stdout)
		logger.Log().WithError(err).Warn("log directory unavailable, logging to stdout only")
		return io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "keyroom.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))
	return rotator
}
