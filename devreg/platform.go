// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package devreg

// Platform supplies the drivers registered at Initialize and releases the
// platform resources at Finalize.
type Platform interface {
	// Drivers returns the bootstrap driver list.
	Drivers() ([]Descriptor, error)
	// Teardown is called by Finalize, and by Initialize when it fails.
	Teardown() error
}

// StaticPlatform is a Platform backed by a fixed list.
type StaticPlatform struct {
	Descriptors []Descriptor
	// OnTeardown is optional.
	OnTeardown func() error
}

// Drivers implements Platform.
func (s *StaticPlatform) Drivers() ([]Descriptor, error) {
	out := make([]Descriptor, len(s.Descriptors))
	copy(out, s.Descriptors)
	return out, nil
}

// Teardown implements Platform.
func (s *StaticPlatform) Teardown() error {
	if s.OnTeardown != nil {
		return s.OnTeardown()
	}
	return nil
}

// Platforms concatenates the driver lists of ps.
//
// Teardown is called on every platform; the first error is returned.
func Platforms(ps ...Platform) Platform {
	return multi(ps)
}

type multi []Platform

func (m multi) Drivers() ([]Descriptor, error) {
	var out []Descriptor
	for _, p := range m {
		d, err := p.Drivers()
		if err != nil {
			return nil, err
		}
		out = append(out, d...)
	}
	return out, nil
}

func (m multi) Teardown() error {
	var err error
	for _, p := range m {
		if err1 := p.Teardown(); err1 != nil && err == nil {
			err = err1
		}
	}
	return err
}
