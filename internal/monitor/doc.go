// Package monitor turns polled device status into discrete change
// events.
//
// The devices push nothing; the only way to notice a plug switching is
// to poll get_sysinfo and compare. The Watcher keeps the last known
// status snapshot per endpoint, projects each new status onto a
// configurable watched-field set, and notifies subscribers of every
// field that differs. Which fields qualify as "state" and how often to
// poll are caller policy, not baked in.
package monitor
