// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log wraps zap with the small leveled-logging surface the rest of
// the code base uses: a process root logger, child loggers with bound
// key-value context, and panic capture for goroutines.
package log

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// Logger describes the logger interface.
type Logger interface {
	// New returns a child logger with the given key-value context bound.
	New(ctx ...interface{}) Logger
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// Enabled returns whether the given level is enabled.
	Enabled(lvl Level) bool
}

// Level is a logging priority.
type Level = zapcore.Level

// Available levels.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Config configures the process root logger.
type Config struct {
	// Level of console logging (defaults to info).
	Level string `toml:"level,omitempty"`
	// Format of the console logging. "human" or "json" (defaults to human).
	Format string `toml:"format,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values.
func (c *Config) InitDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "human"
	}
}

var root = newLogger(zap.NewNop())

// Setup configures the process root logger. It must be called before the
// first call to Root or FromCtx, typically straight from main.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return serrors.Wrap("parsing log level", err, "level", cfg.Level)
	}
	var zCfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "human":
		zCfg = zap.NewDevelopmentConfig()
	case "json":
		zCfg = zap.NewProductionConfig()
	default:
		return serrors.New("unsupported log format", "format", cfg.Format)
	}
	zCfg.Level = zap.NewAtomicLevelAt(lvl)
	zCfg.DisableStacktrace = true
	z, err := zCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return serrors.Wrap("creating logger", err)
	}
	root = newLogger(z)
	return nil
}

// Root returns the root logger. It is never nil.
func Root() Logger {
	return root
}

// New returns a child of the root logger with the given context bound.
func New(ctx ...interface{}) Logger {
	return Root().New(ctx...)
}

// Discard sets the root logger to discard all messages. Useful in tests.
func Discard() {
	root = newLogger(zap.NewNop())
}

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }

// Info logs at info level on the root logger.
func Info(msg string, ctx ...interface{}) { root.Info(msg, ctx...) }

// Error logs at error level on the root logger.
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }

// HandlePanic catches panics and logs them before terminating the process.
// Deferred at the top of every goroutine the code base spawns; a panic in a
// goroutine that does not handle it crashes the process without flushing the
// logs.
func HandlePanic() {
	if msg := recover(); msg != nil {
		root.Error("Panic", "msg", msg, "stack", string(debug.Stack()))
		_ = root.logger.Sync()
		os.Exit(255)
	}
}

type logger struct {
	logger *zap.Logger
}

func newLogger(z *zap.Logger) *logger {
	return &logger{logger: z}
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...interface{}) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...interface{}) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...interface{}) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(lvl)
}

func (l *logger) WithOptions(opts ...zap.Option) Logger {
	return &logger{logger: l.logger.WithOptions(opts...)}
}

func convertCtx(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}
