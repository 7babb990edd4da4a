// Package commands turns parsed player commands into workflow calls and runs
// them off the caller's goroutine.
//
// # Design Notes
//
// A Router validates arity and maps a command name onto the matching
// workflow.Service method. Store failures never reach the player as raw
// errors: they are logged and answered with the general.error message.
//
// An Executor is a fixed pool of workers draining a bounded queue. Submit
// never blocks; a saturated node rejects work with ErrQueueFull instead of
// stalling the proxy's event thread.
package commands
