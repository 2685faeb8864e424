// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets code that waits on time be tested without waiting.
//
// Retry loops take a [Clock] instead of calling time.After directly.
// Production passes [Real]; tests pass a [FakeClock] and step it:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go client.Upload(ctx, records) // backs off after a 503
//	fake.WaitForWaiters(1)         // the retry loop is now waiting
//	fake.Advance(250 * time.Millisecond)
//
// WaitForWaiters closes the race between a goroutine registering its
// wait and the test advancing the clock past it.
package clock
