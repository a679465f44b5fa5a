// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package halerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("bus stuck")
	data := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{NotFound, NotFound},
		{New(Already, "ioexp.Open", "pin 3"), Already},
		{Wrap(Memory, "devreg.Open", cause), Memory},
		{fmt.Errorf("outer: %w", New(InputDirection, "ioexp.Write", "")), InputDirection},
		{cause, Internal},
	}
	for i, line := range data {
		if got := KindOf(line.err); got != line.want {
			t.Errorf("#%d: KindOf(%v) = %q, want %q", i, line.err, got, line.want)
		}
	}
}

func TestErrorIs(t *testing.T) {
	cause := errors.New("nak")
	err := Wrap(NoSupported, "devreg.Read", cause)
	if !errors.Is(err, NoSupported) {
		t.Fatal("expected NoSupported")
	}
	if errors.Is(err, NotFound) {
		t.Fatal("unexpected NotFound")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to be reachable")
	}
	if s := err.Error(); s != "devreg.Read: no_supported: nak" {
		t.Fatalf("Error() = %q", s)
	}
}

func TestEnsure(t *testing.T) {
	if Ensure(Internal, "op", nil) != nil {
		t.Fatal("expected nil")
	}
	kinded := New(NotFound, "a", "")
	if got := Ensure(Internal, "b", kinded); got != kinded {
		t.Fatalf("Ensure rewrapped a kinded error: %v", got)
	}
	if got := Ensure(Lock, "b", Already); got != Already {
		t.Fatalf("Ensure rewrapped a bare Kind: %v", got)
	}
	plain := errors.New("i2c nak")
	got := Ensure(Internal, "devreg.Initialize", plain)
	if KindOf(got) != Internal || !errors.Is(got, plain) {
		t.Fatalf("Ensure(plain) = %v", got)
	}
}
