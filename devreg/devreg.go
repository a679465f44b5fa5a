// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package devreg

import (
	"strconv"
	"sync"

	"periph.io/x/hal/v3/halerr"
	"periph.io/x/hal/v3/logging"
)

// MaxNameLen is the maximum length in bytes of a driver name.
const MaxNameLen = 32

// DeviceID identifies a registered driver.
type DeviceID uint32

func (d DeviceID) String() string {
	return "0x" + strconv.FormatUint(uint64(d), 16)
}

// Cmd is a driver specific ioctl command code.
type Cmd uint32

// Ops is the callback table of a driver. Any field may be nil, in which case
// the matching Registry call fails with halerr.NoSupported.
//
// Callbacks are invoked with the session mutex held and must not call back
// into the Registry.
type Ops struct {
	Open  func(id DeviceID, arg interface{}) error
	Close func(id DeviceID) error
	Read  func(id DeviceID, b []byte) (int, error)
	Write func(id DeviceID, b []byte) (int, error)
	Ioctl func(id DeviceID, arg interface{}, cmd Cmd) error
}

// Descriptor is a registered driver.
type Descriptor struct {
	ID   DeviceID
	Name string
	Ops  Ops
}

// Info describes a registered driver. It is returned by Registry.Drivers.
type Info struct {
	ID    DeviceID
	Name  string
	Open  bool
	Close bool
	Read  bool
	Write bool
	Ioctl bool
}

// Option configures a Registry.
type Option func(r *Registry)

// WithSink sets the sink failures are reported to. Defaults to
// logging.Discard.
func WithSink(s logging.Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithMaxDrivers bounds the number of registered drivers. 0 means unbounded.
func WithMaxDrivers(n int) Option {
	return func(r *Registry) { r.st.maxDrivers = n }
}

// WithMaxHandles bounds the number of concurrently open handles. 0 means
// unbounded.
func WithMaxHandles(n int) Option {
	return func(r *Registry) { r.st.maxHandles = n }
}

// Registry registers drivers by DeviceID and dispatches calls on open
// handles to their callbacks.
//
// Locks are always taken in this order and released in reverse:
//   - apiMu for the whole duration of every public call;
//   - listMu around each structural access to the store;
//   - the handle mutex around exactly one driver callback.
type Registry struct {
	apiMu  sync.Mutex
	listMu sync.Mutex

	platform Platform
	sink     logging.Sink

	// Guarded by apiMu.
	ready bool
	// Guarded by listMu.
	st *store
}

// New returns an uninitialized Registry that bootstraps from p.
//
// p may be nil, in which case the registry starts empty.
func New(p Platform, opts ...Option) *Registry {
	if p == nil {
		p = &StaticPlatform{}
	}
	r := &Registry{platform: p, sink: logging.Discard, st: newStore(0, 0)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Initialize registers every driver returned by the platform.
//
// On failure the platform is torn down and the Registry stays
// uninitialized.
func (r *Registry) Initialize() error {
	const op = "devreg.Initialize"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	if r.ready {
		return r.fail(halerr.New(halerr.InvalidState, op, "already initialized"))
	}
	r.withList(func() { r.st.reset() })
	drvs, err := r.platform.Drivers()
	if err != nil {
		r.abortInit()
		return r.fail(halerr.Ensure(halerr.Internal, op, err))
	}
	for _, d := range drvs {
		if err = r.addDriver(d); err != nil {
			r.abortInit()
			return r.fail(err)
		}
	}
	r.ready = true
	return nil
}

func (r *Registry) abortInit() {
	r.withList(func() { r.st.reset() })
	if err := r.platform.Teardown(); err != nil {
		r.sink.Event(logging.Warn, halerr.KindOf(err), "devreg.Initialize: teardown after failure: %v", err)
	}
}

// Finalize drops every open handle and every descriptor, then tears down the
// platform.
//
// The drivers' Close callbacks are not invoked for handles that are still
// open.
func (r *Registry) Finalize() error {
	const op = "devreg.Finalize"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	if !r.ready {
		return r.fail(halerr.New(halerr.InvalidState, op, "not initialized"))
	}
	var open int
	r.withList(func() { open = r.st.reset() })
	r.ready = false
	if open != 0 {
		r.sink.Event(logging.Debug, "", "%s: dropped %d open handle(s) without calling Close", op, open)
	}
	if err := r.platform.Teardown(); err != nil {
		return r.fail(halerr.Ensure(halerr.Internal, op, err))
	}
	return nil
}

// AddDriver registers a driver.
func (r *Registry) AddDriver(id DeviceID, name string, ops Ops) error {
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	if !r.ready {
		return r.fail(halerr.New(halerr.InvalidState, "devreg.AddDriver", "not initialized"))
	}
	return r.fail(r.addDriver(Descriptor{ID: id, Name: name, Ops: ops}))
}

// addDriver must be called with apiMu held.
func (r *Registry) addDriver(d Descriptor) error {
	if len(d.Name) > MaxNameLen {
		return halerr.New(halerr.InvalidParam, "devreg.AddDriver", "name "+strconv.Quote(d.Name)+" is too long")
	}
	var err error
	r.withList(func() { err = r.st.addDriver(d) })
	return err
}

// Open opens a session on the driver id and calls its Open callback with arg.
//
// If the callback fails, the session is discarded before the error is
// returned, so no Handle is ever exposed for a device that failed to open.
func (r *Registry) Open(id DeviceID, arg interface{}) (Handle, error) {
	const op = "devreg.Open"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	if !r.ready {
		return Handle{}, r.fail(halerr.New(halerr.InvalidState, op, "not initialized"))
	}
	var h Handle
	var e *entry
	var err error
	r.withList(func() {
		d, ok := r.st.driver(id)
		if !ok {
			err = halerr.New(halerr.NotFound, op, "device "+id.String())
			return
		}
		if d.Ops.Open == nil {
			err = halerr.New(halerr.NoSupported, op, "device "+id.String()+" has no open callback")
			return
		}
		e = &entry{id: id, ops: d.Ops}
		h, err = r.st.insert(e)
	})
	if err != nil {
		return Handle{}, r.fail(err)
	}
	if err = e.call(func() error { return e.ops.Open(id, arg) }); err != nil {
		r.withList(func() { r.st.remove(h) })
		return Handle{}, r.fail(err)
	}
	return h, nil
}

// Close calls the driver Close callback and, only if it succeeded, discards
// the session.
//
// On failure the Handle stays valid so the caller may retry.
func (r *Registry) Close(h Handle) error {
	const op = "devreg.Close"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	e, err := r.lookup(op, h)
	if err != nil {
		return r.fail(err)
	}
	if e.ops.Close == nil {
		return r.fail(halerr.New(halerr.NoSupported, op, "device "+e.id.String()+" has no close callback"))
	}
	if err = e.call(func() error { return e.ops.Close(e.id) }); err != nil {
		return r.fail(err)
	}
	r.withList(func() { r.st.remove(h) })
	return nil
}

// Read calls the driver Read callback.
func (r *Registry) Read(h Handle, b []byte) (int, error) {
	const op = "devreg.Read"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	e, err := r.lookup(op, h)
	if err != nil {
		return 0, r.fail(err)
	}
	if b == nil {
		return 0, r.fail(halerr.New(halerr.InvalidParam, op, "nil buffer"))
	}
	if e.ops.Read == nil {
		return 0, r.fail(halerr.New(halerr.NoSupported, op, "device "+e.id.String()+" has no read callback"))
	}
	var n int
	err = e.call(func() error {
		var err1 error
		n, err1 = e.ops.Read(e.id, b)
		return err1
	})
	return n, r.fail(err)
}

// Write calls the driver Write callback.
func (r *Registry) Write(h Handle, b []byte) (int, error) {
	const op = "devreg.Write"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	e, err := r.lookup(op, h)
	if err != nil {
		return 0, r.fail(err)
	}
	if b == nil {
		return 0, r.fail(halerr.New(halerr.InvalidParam, op, "nil buffer"))
	}
	if e.ops.Write == nil {
		return 0, r.fail(halerr.New(halerr.NoSupported, op, "device "+e.id.String()+" has no write callback"))
	}
	var n int
	err = e.call(func() error {
		var err1 error
		n, err1 = e.ops.Write(e.id, b)
		return err1
	})
	return n, r.fail(err)
}

// Ioctl calls the driver Ioctl callback with arg and cmd.
func (r *Registry) Ioctl(h Handle, arg interface{}, cmd Cmd) error {
	const op = "devreg.Ioctl"
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	e, err := r.lookup(op, h)
	if err != nil {
		return r.fail(err)
	}
	if arg == nil {
		return r.fail(halerr.New(halerr.InvalidParam, op, "nil argument"))
	}
	if e.ops.Ioctl == nil {
		return r.fail(halerr.New(halerr.NoSupported, op, "device "+e.id.String()+" has no ioctl callback"))
	}
	return r.fail(e.call(func() error { return e.ops.Ioctl(e.id, arg, cmd) }))
}

// Drivers returns a snapshot of the registered drivers in registration
// order.
func (r *Registry) Drivers() []Info {
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	var out []Info
	r.withList(func() {
		out = make([]Info, 0, len(r.st.drivers))
		for _, d := range r.st.drivers {
			out = append(out, Info{
				ID:    d.ID,
				Name:  d.Name,
				Open:  d.Ops.Open != nil,
				Close: d.Ops.Close != nil,
				Read:  d.Ops.Read != nil,
				Write: d.Ops.Write != nil,
				Ioctl: d.Ops.Ioctl != nil,
			})
		}
	})
	return out
}

// OpenHandles returns the number of live sessions.
func (r *Registry) OpenHandles() int {
	r.apiMu.Lock()
	defer r.apiMu.Unlock()
	var n int
	r.withList(func() { n = r.st.live })
	return n
}

//

// lookup must be called with apiMu held.
func (r *Registry) lookup(op string, h Handle) (*entry, error) {
	if !r.ready {
		return nil, halerr.New(halerr.InvalidState, op, "not initialized")
	}
	var e *entry
	r.withList(func() { e = r.st.lookup(h) })
	if e == nil {
		return nil, halerr.New(halerr.NotFound, op, h.String())
	}
	return e, nil
}

func (r *Registry) withList(f func()) {
	r.listMu.Lock()
	defer r.listMu.Unlock()
	f()
}

func (r *Registry) fail(err error) error {
	return logging.Fail(r.sink, err)
}

// call runs f with the session mutex held.
func (e *entry) call(f func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return f()
}
