// Package stage runs one pipeline step: an optional native action, an
// optional external toolkit command, a check that every declared output now
// exists, and an optional operator confirmation checkpoint.
package stage

import (
	"context"
	"strings"
)

// Command is an external toolkit invocation.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory; the toolkit scripts resolve their inputs
	// relative to it.
	Dir string
}

// String renders the command line for logs and prompts.
func (c Command) String() string {
	parts := append([]string{c.Binary}, c.Args...)
	return strings.Join(parts, " ")
}

// Checkpoint is a human confirmation the run blocks on after a stage.
type Checkpoint struct {
	Name     string
	Prompt   string
	Artifact string
	// Hint tells the operator how to review the artifact.
	Hint string
}

// Stage is one step of the protocol.
type Stage struct {
	Name      string
	DependsOn []string
	// Native runs before Command. Errors it returns that already carry a
	// classification are passed through unchanged.
	Native     func(context.Context) error
	Command    *Command
	Outputs    []string
	Checkpoint *Checkpoint
}
