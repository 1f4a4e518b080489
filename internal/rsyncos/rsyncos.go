// Package rsyncos adapts process-level state (stdio, working directory,
// restriction toggles) into the small set of fields every entry point in
// this module threads through instead of reaching for globals.
package rsyncos

import (
	"fmt"
	"io"
)

// Std is the minimal stdio triple used by server-side and daemon-side
// handlers that only need to read/write/log, not parse flags.
type Std struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Env extends Std with the process-global state the client-mode and
// daemon-mode CLI entry points need: whether landlock restriction should be
// applied, and whether the bundled --gokr.* extension flags are in play.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// DontRestrict disables internal/restrict's landlock sandboxing, used
	// when a parent process has already restricted the filesystem view, or
	// when running in an environment landlock cannot operate in (e.g. a
	// container without the required kernel support).
	DontRestrict bool
}

// Restrict reports whether filesystem restriction should be applied.
func (e *Env) Restrict() bool { return !e.DontRestrict }

// Logf writes a formatted line to Stderr, ignoring write errors the way
// logging calls throughout this module do (a failing logger must never
// abort a transfer).
func (e *Env) Logf(format string, args ...any) {
	if e.Stderr == nil {
		return
	}
	fmt.Fprintf(e.Stderr, format+"\n", args...)
}

// Std returns the Std view of e, for call sites that only need stdio.
func (e *Env) Std() Std {
	return Std{Stdin: e.Stdin, Stdout: e.Stdout, Stderr: e.Stderr}
}
