// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logging is the event sink used by devreg and ioexp to report
// failures.
//
// Every failure path in the core emits exactly one event made of a severity,
// a halerr.Kind and a formatted message. The default sink writes through
// logrus.
package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"periph.io/x/hal/v3/halerr"
)

// Severity is the importance of an event.
type Severity int

const (
	Debug Severity = iota
	Info
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Sink receives events.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	Event(sev Severity, code halerr.Kind, format string, args ...interface{})
}

// New returns a logrus entry configured like the rest of the tooling: prefixed
// text output on stderr with full timestamps.
func New(level logrus.Level) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	f := new(prefixed.TextFormatter)
	f.TimestampFormat = "2006-01-02 15:04:05"
	f.FullTimestamp = true
	f.SpacePadding = 50
	logger.SetFormatter(f)
	return logrus.NewEntry(logger)
}

// Logrus adapts a logrus entry to Sink.
type Logrus struct {
	Entry *logrus.Entry
}

// NewLogrus returns a Sink logging through e with the given prefix.
func NewLogrus(e *logrus.Entry, prefix string) *Logrus {
	return &Logrus{Entry: e.WithField("prefix", prefix)}
}

// Event implements Sink.
func (l *Logrus) Event(sev Severity, code halerr.Kind, format string, args ...interface{}) {
	e := l.Entry.WithFields(logrus.Fields{
		"code":  string(code),
		"event": uuid.New().String(),
	})
	switch sev {
	case Debug:
		e.Debugf(format, args...)
	case Info:
		e.Infof(format, args...)
	case Warn:
		e.Warnf(format, args...)
	default:
		e.Errorf(format, args...)
	}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Event(Severity, halerr.Kind, string, ...interface{}) {}

// Record is one event captured by a Recorder.
type Record struct {
	Severity Severity
	Code     halerr.Kind
	Message  string
}

// Recorder keeps every event in memory. It is meant for tests.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// Event implements Sink.
func (r *Recorder) Event(sev Severity, code halerr.Kind, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Severity: sev, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Records returns a copy of the captured events.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Codes returns the code of every captured event, in order.
func (r *Recorder) Codes() []halerr.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]halerr.Kind, len(r.records))
	for i := range r.records {
		out[i] = r.records[i].Code
	}
	return out
}

// Reset forgets every captured event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

// Fail emits err to s at Error severity and returns err unchanged, so that
// failure paths can be written as `return logging.Fail(sink, err)`.
func Fail(s Sink, err error) error {
	if err != nil {
		s.Event(Error, halerr.KindOf(err), "%v", err)
	}
	return err
}
