// Copyright 2024 The moss-kernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog provides the kernel's leveled log sink. The call shape
// (Debugf/Infof/Warningf against a package-level default, swappable via
// SetEmitter) mirrors gvisor's pkg/log; the backend is a real structured
// logger rather than a hand-rolled emitter.
package klog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Emitter is the sink logged lines are written to. It is deliberately small
// so that boot code can swap it for a serial-console emitter before any
// goroutine-based logging (which is unavailable before the scheduler comes
// up) is possible.
type Emitter interface {
	Emit(level Level, format string, args []any)
}

// Level is a log severity, ordered least to most severe.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// logrusEmitter backs Emitter with a github.com/sirupsen/logrus.Logger.
type logrusEmitter struct {
	l *logrus.Logger
}

func (e *logrusEmitter) Emit(level Level, format string, args []any) {
	entry := e.l.WithField("subsys", "kernel")
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	switch level {
	case Debug:
		entry.Debug(msg)
	case Info:
		entry.Info(msg)
	case Warning:
		entry.Warn(msg)
	case Error:
		entry.Error(msg)
	}
}

func newDefaultEmitter() Emitter {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusEmitter{l: l}
}

var current Emitter = newDefaultEmitter()
var minLevel = Debug

// SetEmitter replaces the default emitter. Used by the boot path to switch
// to a serial-console emitter before the scheduler is available, and by
// tests to capture output.
func SetEmitter(e Emitter) { current = e }

// SetLevel gates emission below level.
func SetLevel(level Level) { minLevel = level }

func emit(level Level, format string, args ...any) {
	if level < minLevel {
		return
	}
	current.Emit(level, format, args)
}

// Debugf logs at Debug level.
func Debugf(format string, args ...any) { emit(Debug, format, args...) }

// Infof logs at Info level.
func Infof(format string, args ...any) { emit(Info, format, args...) }

// Warningf logs at Warning level.
func Warningf(format string, args ...any) { emit(Warning, format, args...) }

// Errorf logs at Error level.
func Errorf(format string, args ...any) { emit(Error, format, args...) }
