package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Result is the immutable, terminal outcome of one Command execution
// (spec §3). It is produced exactly once per execution.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Signal   string // empty unless the child was signal-terminated

	Command string // masked, reconstructed command string
	Start   time.Time
	End     time.Time

	Adapter   AdapterKind
	Host      string // set by the SSH adapter
	Container string // set by the container/cluster adapters

	// TimedOut is set when this Result was produced by a deadline
	// expiring under nothrow rather than a genuine process exit, so
	// Cause can distinguish it from a program that happened to exit 124.
	TimedOut bool
}

// Duration returns End.Sub(Start). By construction End >= Start.
func (r Result) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// OK reports whether the command exited successfully (exit code 0, no
// terminating signal).
func (r Result) OK() bool {
	return r.ExitCode == 0 && r.Signal == ""
}

// Cause describes why the command is not OK, in the form "timeout
// (exitCode: N)", "signal: NAME", or "exitCode: N". Empty when OK.
func (r Result) Cause() string {
	if r.OK() {
		return ""
	}
	if r.TimedOut {
		return fmt.Sprintf("timeout (exitCode: %d)", r.ExitCode)
	}
	if r.Signal != "" {
		return "signal: " + r.Signal
	}
	return fmt.Sprintf("exitCode: %d", r.ExitCode)
}

// Text returns the captured stdout, trimmed of a single trailing newline.
// Result implements escape.TextProducer via this method, so a prior Result
// can be interpolated directly into a template.
func (r Result) Text() (string, error) {
	return strings.TrimRight(string(r.Stdout), "\n"), nil
}

// Buffer returns the raw captured stdout bytes.
func (r Result) Buffer() []byte {
	return r.Stdout
}

// Lines splits the trimmed stdout text on newlines. An empty trimmed text
// yields an empty slice, not a slice containing one empty string.
func (r Result) Lines() []string {
	text, _ := r.Text()
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

// JSON decodes the trimmed stdout text into v.
func (r Result) JSON(v any) error {
	text, _ := r.Text()
	return json.Unmarshal([]byte(text), v)
}
