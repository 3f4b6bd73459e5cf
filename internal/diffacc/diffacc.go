// Package diffacc accumulates per-tool file edit results into a
// unified-diff-format aggregate for the current turn.
package diffacc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// separator joins fragments when the accumulator is serialized for the wire.
const separator = "\n\n"

// Accumulator holds the ordered unified-diff fragments for the current turn.
// It is empty again immediately after a turn starts.
type Accumulator struct {
	mu        sync.Mutex
	fragments []string
}

// New creates an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Reset clears all fragments, called at turn start.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragments = nil
}

// Append adds a fragment and returns the joined payload as it stands after
// the append (used to emit turn/diff/updated immediately).
func (a *Accumulator) Append(fragment string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragments = append(a.fragments, fragment)
	return strings.Join(a.fragments, separator)
}

// Joined returns the current accumulated payload without mutating it.
func (a *Accumulator) Joined() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.fragments, separator)
}

// Empty reports whether no fragments have been appended.
func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments) == 0
}

// BuildFragment constructs the unified-diff fragment for one file-change
// tool result, at tool_execution_end:
//
//   - If the agent supplied a diff body, prefix it with the file header.
//   - Otherwise, if output text is available and the change is a creation,
//     synthesize a full-addition diff from the output lines.
//
// Returns "" if neither a diff body nor synthesizable output is available.
func BuildFragment(path, kind, diffBody, outputText string) string {
	if diffBody != "" {
		return fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", path, path, diffBody)
	}
	if kind == "create" && outputText != "" {
		return synthesizeAddition(path, outputText)
	}
	return ""
}

// synthesizeAddition builds a full-addition unified diff fragment from raw
// output text, used when the agent supplies no diff body for a file creation.
func synthesizeAddition(path, outputText string) string {
	lines := strings.Split(outputText, "\n")
	n := len(lines)

	var b strings.Builder
	fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n@@ -0,0 +1,%s @@\n", path, strconv.Itoa(n))
	for i, line := range lines {
		b.WriteString("+")
		b.WriteString(line)
		if i < n-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
