// Package logutil sets up the process-wide zap logger used by every other
// package in this driver, following the same InitLogger/ReplaceGlobals
// sequence the PD server uses before starting any background task.
package logutil

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup builds a zap logger from cfg and installs it as the package-level
// logger used by log.Info/log.Warn/log.Error throughout this repository.
func Setup(cfg *log.Config) error {
	lg, props, err := log.InitLogger(cfg, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// LogPanic recovers a panic in the calling goroutine, logs it at Fatal
// level (which flushes the logger before exiting), and re-panics is not
// necessary since log.Fatal already terminates the process.
func LogPanic() {
	if r := recover(); r != nil {
		log.Fatal("panic", zap.Any("recover", r))
	}
}
