// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package devreg

import (
	"strconv"
	"sync"

	"periph.io/x/hal/v3/halerr"
)

// Handle is an opaque reference to one open session against a driver.
//
// It is comparable and safe to copy. A Handle is validated against the live
// handle table on every use, so a stale Handle never aliases a newer session
// that reuses the same slot.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsValid returns false for the zero Handle.
func (h Handle) IsValid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	if !h.IsValid() {
		return "devreg.Handle(invalid)"
	}
	return "devreg.Handle(" + strconv.FormatUint(uint64(h.slot), 10) + "#" + strconv.FormatUint(uint64(h.gen), 10) + ")"
}

// entry is a live session.
//
// mu serializes the driver callbacks of this session. It is the innermost
// lock and is never held while the store is mutated.
type entry struct {
	id  DeviceID
	ops Ops
	mu  sync.Mutex
}

type slot struct {
	gen uint32
	e   *entry
}

// store holds the registered descriptors and the handle table.
//
// It does no locking of its own; the Registry list mutex guards it.
type store struct {
	maxDrivers int
	maxHandles int

	drivers []Descriptor // registration order
	slots   []slot
	free    []uint32
	live    int
	// seq is the last generation handed out. It survives reset() so that a
	// Handle from a previous Initialize/Finalize cycle stays invalid.
	seq uint32
}

func newStore(maxDrivers, maxHandles int) *store {
	return &store{maxDrivers: maxDrivers, maxHandles: maxHandles}
}

func (s *store) driver(id DeviceID) (Descriptor, bool) {
	for i := range s.drivers {
		if s.drivers[i].ID == id {
			return s.drivers[i], true
		}
	}
	return Descriptor{}, false
}

func (s *store) addDriver(d Descriptor) error {
	if _, ok := s.driver(d.ID); ok {
		return halerr.New(halerr.InvalidParam, "devreg.AddDriver", "device "+d.ID.String()+" already registered")
	}
	if s.maxDrivers > 0 && len(s.drivers) >= s.maxDrivers {
		return halerr.New(halerr.InvalidParam, "devreg.AddDriver", "descriptor table full")
	}
	s.drivers = append(s.drivers, d)
	return nil
}

func (s *store) insert(e *entry) (Handle, error) {
	if s.maxHandles > 0 && s.live >= s.maxHandles {
		return Handle{}, halerr.New(halerr.Memory, "devreg.Open", "handle table full")
	}
	var i uint32
	if n := len(s.free); n != 0 {
		i = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{})
		i = uint32(len(s.slots) - 1)
	}
	s.seq++
	if s.seq == 0 {
		// Skip the invalid generation on wrap around.
		s.seq = 1
	}
	sl := &s.slots[i]
	sl.gen = s.seq
	sl.e = e
	s.live++
	return Handle{slot: i, gen: sl.gen}, nil
}

func (s *store) lookup(h Handle) *entry {
	if !h.IsValid() || int(h.slot) >= len(s.slots) {
		return nil
	}
	sl := &s.slots[h.slot]
	if sl.gen != h.gen {
		return nil
	}
	return sl.e
}

func (s *store) remove(h Handle) bool {
	if s.lookup(h) == nil {
		return false
	}
	s.slots[h.slot].e = nil
	s.free = append(s.free, h.slot)
	s.live--
	return true
}

// reset drops every handle and descriptor and returns how many handles were
// still open.
func (s *store) reset() int {
	n := s.live
	for i := range s.slots {
		s.slots[i].e = nil
	}
	s.slots = nil
	s.free = nil
	s.live = 0
	s.drivers = nil
	return n
}
