// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periph.io/x/hal/v3/halerr"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Event(Warn, halerr.NotFound, "device %d", 7)
	err := Fail(&r, halerr.New(halerr.Already, "ioexp.Open", "pin 2"))
	require.Error(t, err)
	assert.Nil(t, Fail(&r, nil))

	recs := r.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, Record{Severity: Warn, Code: halerr.NotFound, Message: "device 7"}, recs[0])
	assert.Equal(t, Error, recs[1].Severity)
	assert.Equal(t, []halerr.Kind{halerr.NotFound, halerr.Already}, r.Codes())

	r.Reset()
	assert.Empty(t, r.Records())
}

func TestLogrus(t *testing.T) {
	var buf bytes.Buffer
	e := New(logrus.DebugLevel)
	e.Logger.SetOutput(&buf)
	e.Logger.SetFormatter(&logrus.JSONFormatter{})
	s := NewLogrus(e, "devreg")

	s.Event(Debug, halerr.Internal, "hello %s", "world")
	s.Event(Error, halerr.KindOf(errors.New("x")), "boom")

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello world"`)
	assert.Contains(t, out, `"code":"internal"`)
	assert.Contains(t, out, `"prefix":"devreg"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"event":`)
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "Severity(9)", Severity(9).String())
}
