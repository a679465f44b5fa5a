// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ioexp_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/hal/v3/devreg"
	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/ioexp"
	"periph.io/x/hal/v3/ioexp/ioexptest"
	"periph.io/x/hal/v3/logging"
)

// newRegistry returns an initialized registry serving the given drivers.
func newRegistry(t *testing.T, drvs ...*ioexptest.Loopback) *devreg.Registry {
	t.Helper()
	p := &devreg.StaticPlatform{}
	for _, d := range drvs {
		p.Descriptors = append(p.Descriptors, d.Descriptor())
	}
	r := devreg.New(p)
	require.NoError(t, r.Initialize())
	t.Cleanup(func() { _ = r.Finalize() })
	return r
}

func newExpander(t *testing.T, r *devreg.Registry, m ...ioexp.Mapping) *ioexp.Expander {
	t.Helper()
	x := ioexp.New(r, ioexp.Mappings(m))
	require.NoError(t, x.Initialize())
	return x
}

func TestScenario(t *testing.T) {
	drv := ioexptest.New(1, 4)
	r := newRegistry(t, drv)

	h, err := r.Open(1, nil)
	require.NoError(t, err)
	var c ioexp.PinCount
	require.NoError(t, r.Ioctl(h, &c, ioexp.CmdGetPinTotalNum))
	assert.Equal(t, 4, c.N)
	require.NoError(t, r.Close(h))

	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 2, Reverse: false})
	p, err := x.Open(0)
	require.NoError(t, err)
	require.NoError(t, x.SetConfigure(p, ioexp.Output))
	require.NoError(t, x.Write(p, gpio.High))
	l, err := x.Read(p)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, l)

	require.NoError(t, x.SetConfigure(p, ioexp.Input))
	assert.ErrorIs(t, x.Write(p, gpio.High), halerr.InputDirection)
	require.NoError(t, x.Finalize())
}

func TestPinRange(t *testing.T) {
	drv := ioexptest.New(1, 4)
	r := newRegistry(t, drv)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 4}, ioexp.Mapping{Device: 1, Pin: 3})
	defer x.Finalize()
	h, err := x.Open(0)
	require.NoError(t, err)
	ok, err := x.Open(1)
	require.NoError(t, err)

	assert.ErrorIs(t, x.SetConfigure(h, ioexp.Output), halerr.InvalidParam)
	_, err = x.GetConfigure(h)
	assert.ErrorIs(t, err, halerr.InvalidParam)
	assert.ErrorIs(t, x.Write(h, gpio.High), halerr.InvalidParam)
	_, err = x.Read(h)
	assert.ErrorIs(t, err, halerr.InvalidParam)
	assert.ErrorIs(t, x.RegisterIrqHandler(h, func(gpio.Level, interface{}) {}, nil, ioexp.IrqBothEdges), halerr.InvalidParam)
	assert.Equal(t, 0, drv.PinCalls())

	// The in-range pin of the batch must not reach the driver either.
	require.NoError(t, x.SetConfigure(ok, ioexp.Output))
	before := drv.PinCalls()
	assert.ErrorIs(t, x.WriteMulti([]ioexp.Handle{ok, h}, []gpio.Level{gpio.High, gpio.High}), halerr.InvalidParam)
	assert.Equal(t, 0, drv.Calls(ioexp.CmdWriteMulti))
	assert.Equal(t, before+1, drv.PinCalls(), "only the direction of the first pin is read")
}

func TestPolarity(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		drv := ioexptest.New(1, 2)
		r := newRegistry(t, drv)
		x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 1, Reverse: reverse})
		h, err := x.Open(0)
		require.NoError(t, err)
		require.NoError(t, x.SetConfigure(h, ioexp.Output))
		for _, v := range []gpio.Level{gpio.High, gpio.Low} {
			require.NoError(t, x.Write(h, v))
			got, err := x.Read(h)
			require.NoError(t, err)
			assert.Equal(t, v, got, "reverse=%t", reverse)
			assert.Equal(t, v != gpio.Level(reverse), bool(drv.Level(1)), "raw level, reverse=%t", reverse)
		}
		require.NoError(t, x.Finalize())
	}
}

func TestLifecycle(t *testing.T) {
	drv := ioexptest.New(1, 8)
	r := newRegistry(t, drv)
	x := ioexp.New(r, ioexp.Mappings{{Device: 1, Pin: 0}})

	_, err := x.Open(0)
	assert.ErrorIs(t, err, halerr.InvalidState)
	assert.ErrorIs(t, x.Finalize(), halerr.InvalidState)
	require.NoError(t, x.Initialize())
	assert.ErrorIs(t, x.Initialize(), halerr.InvalidState)
	assert.Equal(t, 1, x.Len())

	_, err = x.Open(1)
	assert.ErrorIs(t, err, halerr.NotFound)
	h, err := x.Open(0)
	require.NoError(t, err)
	_, err = x.Open(0)
	assert.ErrorIs(t, err, halerr.Already)

	require.NoError(t, x.Close(h))
	assert.ErrorIs(t, x.Close(h), halerr.InvalidParam)
	h2, err := x.Open(0)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	_, err = x.Read(h)
	assert.ErrorIs(t, err, halerr.InvalidParam, "stale handle")
	_, err = x.Read(ioexp.Handle{})
	assert.ErrorIs(t, err, halerr.InvalidParam)

	require.NoError(t, x.Finalize())
	assert.Equal(t, 1, drv.Opens())
	assert.Equal(t, 1, drv.Closes())
	assert.Equal(t, 0, r.OpenHandles())
	assert.Equal(t, 0, x.Len())

	require.NoError(t, x.Initialize())
	_, err = x.Read(h2)
	assert.ErrorIs(t, err, halerr.InvalidParam, "handle from a previous lifecycle")
	require.NoError(t, x.Finalize())
}

func TestSharedDevice(t *testing.T) {
	a := ioexptest.New(1, 8)
	b := ioexptest.New(2, 8)
	r := newRegistry(t, a, b)
	x := newExpander(t, r,
		ioexp.Mapping{Device: 1, Pin: 0},
		ioexp.Mapping{Device: 2, Pin: 0},
		ioexp.Mapping{Device: 1, Pin: 1},
		ioexp.Mapping{Device: 1, Pin: 2},
	)
	assert.Equal(t, 1, a.Opens())
	assert.Equal(t, 1, b.Opens())
	assert.Equal(t, 1, a.Calls(ioexp.CmdGetPinTotalNum))
	assert.Equal(t, 2, r.OpenHandles())
	require.NoError(t, x.Finalize())
	assert.Equal(t, 0, r.OpenHandles())
}

func TestInitializeRollback(t *testing.T) {
	a := ioexptest.New(1, 8)
	b := ioexptest.New(2, 8)
	b.OpenErr = errors.New("bus error")
	r := newRegistry(t, a, b)
	rec := &logging.Recorder{}
	x := ioexp.New(r, ioexp.Mappings{{Device: 1, Pin: 0}, {Device: 2, Pin: 0}}, ioexp.WithSink(rec))

	err := x.Initialize()
	assert.Equal(t, b.OpenErr, err)
	assert.Equal(t, 1, a.Closes())
	assert.Equal(t, 0, r.OpenHandles())
	assert.Equal(t, 0, x.Len())
	_, err = x.Open(0)
	assert.ErrorIs(t, err, halerr.InvalidState)
	assert.Contains(t, rec.Codes(), halerr.Internal)

	b.OpenErr = nil
	b.Fail[ioexp.CmdGetPinTotalNum] = halerr.New(halerr.NoSupported, "fake", "no count")
	assert.ErrorIs(t, x.Initialize(), halerr.NoSupported)
	assert.Equal(t, 2, a.Closes())
	assert.Equal(t, 1, b.Closes())
	assert.Equal(t, 0, r.OpenHandles())

	_, err = ioexp.New(r, ioexp.Mappings{{Device: 9, Pin: 0}}).Open(0)
	assert.ErrorIs(t, err, halerr.InvalidState)
	assert.ErrorIs(t, ioexp.New(r, ioexp.Mappings{{Device: 9, Pin: 0}}).Initialize(), halerr.NotFound)
	assert.ErrorIs(t, ioexp.New(r, ioexp.Mappings{{Device: 1, Pin: -1}}).Initialize(), halerr.InvalidParam)
}

func TestWriteMulti(t *testing.T) {
	drv := ioexptest.New(1, 8)
	r := newRegistry(t, drv)
	x := newExpander(t, r,
		ioexp.Mapping{Device: 1, Pin: 3},
		ioexp.Mapping{Device: 1, Pin: 5, Reverse: true},
		ioexp.Mapping{Device: 1, Pin: 6},
	)
	defer x.Finalize()
	var hs []ioexp.Handle
	for i := 0; i < 3; i++ {
		h, err := x.Open(i)
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, x.SetConfigure(hs[0], ioexp.Output))
	require.NoError(t, x.SetConfigure(hs[1], ioexp.Output))

	assert.ErrorIs(t, x.WriteMulti(nil, nil), halerr.InvalidParam)
	assert.ErrorIs(t, x.WriteMulti(hs[:2], []gpio.Level{gpio.High}), halerr.InvalidParam)
	assert.ErrorIs(t, x.WriteMulti(hs, []gpio.Level{gpio.High, gpio.High, gpio.High}), halerr.InputDirection)
	assert.Empty(t, drv.Batches())

	require.NoError(t, x.WriteMulti(hs[:2], []gpio.Level{gpio.High, gpio.High}))
	b := drv.Batches()
	require.Len(t, b, 1)
	assert.Equal(t, []ioexp.PinArg{
		{Device: 1, Pin: 3, Direction: ioexp.Output, Level: gpio.High},
		{Device: 1, Pin: 5, Direction: ioexp.Output, Level: gpio.Low},
	}, b[0])
	for _, h := range hs[:2] {
		l, err := x.Read(h)
		require.NoError(t, err)
		assert.Equal(t, gpio.High, l)
	}
}

func TestWriteMultiForeignDevice(t *testing.T) {
	a := ioexptest.New(1, 8)
	b := ioexptest.New(2, 8)
	r := newRegistry(t, a, b)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 0}, ioexp.Mapping{Device: 2, Pin: 0})
	defer x.Finalize()
	h0, err := x.Open(0)
	require.NoError(t, err)
	h1, err := x.Open(1)
	require.NoError(t, err)
	require.NoError(t, x.SetConfigure(h0, ioexp.Output))
	require.NoError(t, x.SetConfigure(h1, ioexp.Output))
	// The batch goes to the device of the first handle, which refuses the
	// pin it does not own.
	assert.ErrorIs(t, x.WriteMulti([]ioexp.Handle{h0, h1}, []gpio.Level{gpio.High, gpio.High}), halerr.InvalidParam)
	assert.Equal(t, 1, a.Calls(ioexp.CmdWriteMulti))
	assert.Equal(t, 0, b.Calls(ioexp.CmdWriteMulti))
}

func TestIrq(t *testing.T) {
	drv := ioexptest.New(1, 8)
	r := newRegistry(t, drv)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 7, Irq: 3, Reverse: true})
	defer x.Finalize()
	h, err := x.Open(0)
	require.NoError(t, err)

	type event struct {
		l    gpio.Level
		data interface{}
	}
	var got []event
	fn := func(l gpio.Level, data interface{}) { got = append(got, event{l, data}) }

	assert.ErrorIs(t, x.RegisterIrqHandler(h, fn, nil, 0), halerr.InvalidParam)
	assert.ErrorIs(t, x.RegisterIrqHandler(h, fn, nil, ioexp.IrqLevelLow+1), halerr.InvalidParam)
	assert.ErrorIs(t, x.RegisterIrqHandler(h, nil, nil, ioexp.IrqBothEdges), halerr.InvalidParam)
	assert.ErrorIs(t, x.UnregisterIrqHandler(h), halerr.InvalidState)

	require.NoError(t, x.RegisterIrqHandler(h, fn, "cookie", ioexp.IrqBothEdges))
	assert.ErrorIs(t, x.RegisterIrqHandler(h, fn, nil, ioexp.IrqBothEdges), halerr.Already)
	assert.True(t, drv.Armed(7))

	// Configuration and writes are refused while the handler is installed,
	// reads are not.
	assert.ErrorIs(t, x.SetConfigure(h, ioexp.Output), halerr.InvalidState)
	_, err = x.GetConfigure(h)
	assert.ErrorIs(t, err, halerr.InvalidState)
	assert.ErrorIs(t, x.Write(h, gpio.High), halerr.InvalidState)
	_, err = x.Read(h)
	assert.NoError(t, err)

	assert.True(t, drv.Fire(7, gpio.High))
	assert.True(t, drv.Fire(7, gpio.Low))
	assert.Equal(t, []event{{gpio.Low, "cookie"}, {gpio.High, "cookie"}}, got)

	require.NoError(t, x.UnregisterIrqHandler(h))
	assert.False(t, drv.Armed(7))
	assert.False(t, drv.Fire(7, gpio.High))
	assert.Len(t, got, 2)
	require.NoError(t, x.SetConfigure(h, ioexp.Output))
}

func TestIrqUnregisterFailure(t *testing.T) {
	drv := ioexptest.New(1, 8)
	r := newRegistry(t, drv)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 0})
	h, err := x.Open(0)
	require.NoError(t, err)
	n := 0
	require.NoError(t, x.RegisterIrqHandler(h, func(gpio.Level, interface{}) { n++ }, nil, ioexp.IrqRisingEdge))

	drv.Fail[ioexp.CmdUnregisterIrq] = errors.New("busy")
	assert.Error(t, x.UnregisterIrqHandler(h))
	assert.Error(t, x.Close(h), "close must not drop a registration the driver still holds")
	assert.True(t, drv.Fire(0, gpio.High))
	assert.Equal(t, 1, n)

	delete(drv.Fail, ioexp.CmdUnregisterIrq)
	require.NoError(t, x.Close(h))
	assert.False(t, drv.Armed(0))
	require.NoError(t, x.Finalize())
}

func TestFinalizeUnregisterFailure(t *testing.T) {
	drv := ioexptest.New(1, 8)
	r := newRegistry(t, drv)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 0})
	h, err := x.Open(0)
	require.NoError(t, err)
	var n int32
	fn := func(gpio.Level, interface{}) { atomic.AddInt32(&n, 1) }
	require.NoError(t, x.RegisterIrqHandler(h, fn, nil, ioexp.IrqRisingEdge))

	drv.Fail[ioexp.CmdUnregisterIrq] = errors.New("busy")
	assert.Error(t, x.Finalize())
	// The driver still holds the callback but the handler is gone.
	assert.True(t, drv.Armed(0))
	drv.Fire(0, gpio.High)
	assert.Equal(t, int32(0), atomic.LoadInt32(&n))
	assert.Equal(t, 0, x.Len())
}

func TestCloseUnregistersIrq(t *testing.T) {
	drv := ioexptest.New(1, 8)
	r := newRegistry(t, drv)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 0}, ioexp.Mapping{Device: 1, Pin: 1})
	h0, err := x.Open(0)
	require.NoError(t, err)
	h1, err := x.Open(1)
	require.NoError(t, err)
	var n int32
	fn := func(gpio.Level, interface{}) { atomic.AddInt32(&n, 1) }
	require.NoError(t, x.RegisterIrqHandler(h0, fn, nil, ioexp.IrqBothEdges))
	require.NoError(t, x.RegisterIrqHandler(h1, fn, nil, ioexp.IrqBothEdges))

	require.NoError(t, x.Close(h0))
	assert.False(t, drv.Armed(0))
	assert.True(t, drv.Armed(1))
	require.NoError(t, x.Finalize())
	assert.False(t, drv.Armed(1))
	assert.Equal(t, 2, drv.Calls(ioexp.CmdUnregisterIrq))
	assert.Equal(t, int32(0), atomic.LoadInt32(&n))
}

// Firing concurrently with UnregisterIrqHandler never reaches the handler
// after UnregisterIrqHandler returned.
func TestIrqTeardownRace(t *testing.T) {
	drv := ioexptest.New(1, 1)
	r := newRegistry(t, drv)
	x := newExpander(t, r, ioexp.Mapping{Device: 1, Pin: 0})
	defer x.Finalize()
	h, err := x.Open(0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		var unregistered, late, calls int32
		fn := func(gpio.Level, interface{}) {
			atomic.AddInt32(&calls, 1)
			if atomic.LoadInt32(&unregistered) != 0 {
				atomic.StoreInt32(&late, 1)
			}
		}
		require.NoError(t, x.RegisterIrqHandler(h, fn, nil, ioexp.IrqBothEdges))

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l := gpio.Low
				for {
					select {
					case <-stop:
						return
					default:
					}
					l = !l
					drv.Fire(0, l)
				}
			}()
		}
		for atomic.LoadInt32(&calls) == 0 {
			drv.Fire(0, !drv.Level(0))
		}
		require.NoError(t, x.UnregisterIrqHandler(h))
		atomic.StoreInt32(&unregistered, 1)
		for j := 0; j < 100; j++ {
			drv.Fire(0, j%2 == 0)
		}
		close(stop)
		wg.Wait()
		require.Equal(t, int32(0), atomic.LoadInt32(&late), "handler called after unregistration, iteration %d", i)
	}
}

func TestTypes(t *testing.T) {
	assert.Equal(t, "Output", ioexp.Output.String())
	assert.Equal(t, "Direction(7)", ioexp.Direction(7).String())
	assert.Equal(t, "RisingEdge", ioexp.IrqRisingEdge.String())
	assert.Equal(t, "FallingEdge", ioexp.IrqFallingEdge.String())
	assert.Equal(t, "BothEdges", ioexp.IrqBothEdges.String())
	assert.Equal(t, "LevelHigh", ioexp.IrqLevelHigh.String())
	assert.Equal(t, "LevelLow", ioexp.IrqLevelLow.String())
	assert.Equal(t, "IrqType(0)", ioexp.IrqType(0).String())
	assert.Equal(t, ioexp.IrqFallingEdge, ioexp.IrqRisingEdge.Invert())
	assert.Equal(t, ioexp.IrqBothEdges, ioexp.IrqBothEdges.Invert())
	assert.Equal(t, ioexp.IrqLevelHigh, ioexp.IrqLevelLow.Invert())

	assert.True(t, ioexp.IrqRisingEdge.Triggers(gpio.Low, gpio.High))
	assert.False(t, ioexp.IrqRisingEdge.Triggers(gpio.High, gpio.High))
	assert.True(t, ioexp.IrqFallingEdge.Triggers(gpio.High, gpio.Low))
	assert.False(t, ioexp.IrqBothEdges.Triggers(gpio.Low, gpio.Low))
	assert.True(t, ioexp.IrqLevelHigh.Triggers(gpio.High, gpio.High))
	assert.True(t, ioexp.IrqLevelLow.Triggers(gpio.High, gpio.Low))

	_, err := ioexp.Mappings{}.Mapping(0)
	assert.ErrorIs(t, err, halerr.NotFound)
}
