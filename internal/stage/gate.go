package stage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Decision is an operator's answer at a checkpoint.
type Decision struct {
	Checkpoint string
	Approved   bool
	Reason     string
	DecidedAt  time.Time
}

// Gate obtains confirmations.
type Gate interface {
	Confirm(ctx context.Context, cp Checkpoint) (Decision, error)
}

// ErrNoAnswer is returned by a gate whose input ended before an answer.
var ErrNoAnswer = errors.New("no confirmation received")

// TerminalGate prompts on Out and reads answers from In. It waits as long as
// the operator needs; only context cancellation or end of input stops it.
// At most one read of In is in flight, and it never outlives the line it is
// waiting for. A TerminalGate is not safe for concurrent Confirm calls.
type TerminalGate struct {
	In  io.Reader
	Out io.Writer

	once    sync.Once
	reader  *bufio.Reader
	pending chan answer
}

type answer struct {
	line string
	err  error
}

// NewTerminalGate returns a gate bound to the given reader and writer.
func NewTerminalGate(in io.Reader, out io.Writer) *TerminalGate {
	return &TerminalGate{In: in, Out: out}
}

// Confirm prints the checkpoint and waits for y/yes (or a bare Enter) to
// approve, or n/no to decline.
func (g *TerminalGate) Confirm(ctx context.Context, cp Checkpoint) (Decision, error) {
	g.once.Do(func() { g.reader = bufio.NewReader(g.In) })

	fmt.Fprintf(g.Out, "\n== %s ==\n", cp.Name)
	if cp.Artifact != "" {
		fmt.Fprintf(g.Out, "Review: %s\n", cp.Artifact)
	}
	if cp.Hint != "" {
		fmt.Fprintln(g.Out, cp.Hint)
	}
	for {
		fmt.Fprintf(g.Out, "%s [Y/n]: ", cp.Prompt)
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case a := <-g.nextLine():
			g.pending = nil
			if a.line == "" && a.err != nil {
				if errors.Is(a.err, io.EOF) {
					return Decision{}, ErrNoAnswer
				}
				return Decision{}, a.err
			}
			switch strings.ToLower(strings.TrimSpace(a.line)) {
			case "", "y", "yes":
				return Decision{Checkpoint: cp.Name, Approved: true, Reason: "confirmed at terminal", DecidedAt: time.Now().UTC()}, nil
			case "n", "no":
				return Decision{Checkpoint: cp.Name, Approved: false, Reason: "declined at terminal", DecidedAt: time.Now().UTC()}, nil
			default:
				fmt.Fprintln(g.Out, "Please answer y or n.")
			}
		}
	}
}

// nextLine returns the channel the next input line arrives on, starting a
// read unless one left over from a cancelled Confirm is still pending.
func (g *TerminalGate) nextLine() <-chan answer {
	if g.pending == nil {
		ch := make(chan answer, 1)
		g.pending = ch
		go func() {
			line, err := g.reader.ReadString('\n')
			ch <- answer{line: line, err: err}
		}()
	}
	return g.pending
}

// StaticGate answers every checkpoint the same way.
type StaticGate struct {
	Approve bool
}

// Confirm implements Gate.
func (g StaticGate) Confirm(_ context.Context, cp Checkpoint) (Decision, error) {
	reason := "auto-approved"
	if !g.Approve {
		reason = "auto-declined"
	}
	return Decision{Checkpoint: cp.Name, Approved: g.Approve, Reason: reason, DecidedAt: time.Now().UTC()}, nil
}

// ScriptedGate answers checkpoints by name and records what it was asked.
// Unscripted checkpoints are approved.
type ScriptedGate struct {
	mu      sync.Mutex
	answers map[string]bool
	asked   []string
}

// NewScriptedGate returns a gate with the given per-checkpoint answers.
func NewScriptedGate(answers map[string]bool) *ScriptedGate {
	copied := make(map[string]bool, len(answers))
	for k, v := range answers {
		copied[k] = v
	}
	return &ScriptedGate{answers: copied}
}

// Confirm implements Gate.
func (g *ScriptedGate) Confirm(_ context.Context, cp Checkpoint) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.asked = append(g.asked, cp.Name)
	approved, ok := g.answers[cp.Name]
	if !ok {
		approved = true
	}
	reason := "scripted approval"
	if !approved {
		reason = "scripted refusal"
	}
	return Decision{Checkpoint: cp.Name, Approved: approved, Reason: reason, DecidedAt: time.Now().UTC()}, nil
}

// Asked returns the checkpoints presented so far, in order.
func (g *ScriptedGate) Asked() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.asked...)
}
