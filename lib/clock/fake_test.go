// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(5 * time.Second)

	fake.Advance(4 * time.Second)
	select {
	case <-channel:
		t.Fatal("fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(5 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("did not fire at its deadline")
	}
	if fake.Pending() != 0 {
		t.Errorf("Pending = %d after firing", fake.Pending())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) not ready immediately")
	}
	if fake.Pending() != 0 {
		t.Error("After(0) registered a waiter")
	}
}

func TestWaitForWaiters(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fake.After(time.Minute)
		close(done)
	}()

	fake.WaitForWaiters(1)
	fake.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("goroutine did not wake after Advance")
	}
}

func TestRealClock(t *testing.T) {
	wall := Real()
	before := time.Now()
	if wall.Now().Before(before) {
		t.Error("Real().Now() went backwards")
	}
	select {
	case <-wall.After(0):
	case <-time.After(5 * time.Second):
		t.Fatal("Real().After(0) did not fire")
	}
}
