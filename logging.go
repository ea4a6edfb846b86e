/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapStderr struct{}

func (zapStderr) Write(p []byte) (int, error) { return os.Stderr.Write(p) }

// LogLevel mirrors the teacher's LogLevelError-style leveled logger, backed
// by zap instead of a bare log.Logger.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelSilent
)

// Logger is a thin leveled wrapper the rest of the daemon calls through,
// matching the shape referenced by the teacher's helper_test.go
// (NewLogger, LogLevelError) while being backed by a structured logger.
type Logger struct {
	level LogLevel
	sugar *zap.SugaredLogger
}

func NewLogger(level LogLevel, prefix string) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(zapStderr{}),
		zapLevelFor(level),
	)
	l := zap.New(core)
	if prefix != "" {
		l = l.Named(prefix)
	}
	return &Logger{level: level, sugar: l.Sugar()}
}

func zapLevelFor(l LogLevel) zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level <= LogLevelDebug {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level <= LogLevelInfo {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.level <= LogLevelWarn {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.level <= LogLevelError {
		l.sugar.Errorf(format, args...)
	}
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
