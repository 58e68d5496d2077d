// Package dedupe provides a time-bounded tracker of processed message
// identifiers, used by agents to tolerate idempotent re-delivery after
// restarting from a stale poll checkpoint.
package dedupe
