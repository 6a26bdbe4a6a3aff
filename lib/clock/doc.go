// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that measure or wait on time (the synchronous-call
// latency budget in the RPC client, listener idle deadlines, bearer
// token expiry, delayed work inside services) take a Clock instead of
// calling the time package directly. Production wiring passes Real();
// tests pass Fake() and move time forward explicitly with Advance.
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := rpc.NewClient(transport, replica, rpc.Options{Clock: fake})
//	fake.Advance(200 * time.Millisecond)
//
// A goroutine that schedules a timer races the test that advances the
// clock. WaitForTimers blocks until the expected number of timers are
// registered so Advance fires them deterministically.
package clock
