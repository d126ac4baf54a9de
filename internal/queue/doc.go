// Package queue serializes device commands per endpoint.
//
// Kasa devices handle exactly one request at a time; interleaving a
// second request on the same connection wedges the firmware. The
// Dispatcher therefore runs one worker goroutine per endpoint, draining
// submitted commands in strict arrival order. Commands for different
// endpoints run fully concurrently.
//
// The dispatcher owns the retry policy: a timed-out or
// transport-failed attempt is retried up to MaxRetries times (some
// devices want a fresh connection per attempt, so both failure kinds
// retry identically), while decode failures and device err_codes
// surface immediately. Callers observe a single result or one terminal
// typed error.
//
//	d := queue.New(nil, queue.Options{Timeout: 5 * time.Second, MaxRetries: 1})
//	defer d.Close()
//	member, err := d.Submit(ctx, ep, protocol.SysInfoRequest())
package queue
