// Package plan implements serializable, resumable operation plans: an
// ordered list of named steps with arguments, a closed-world registry that
// maps stable operation identifiers to implementations, and an executor
// that runs steps in order and dumps a recovery snapshot on first failure.
package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// Step is one named operation with its arguments. Op is a registry key, not
// a function reference, so plans stay serializable and a loaded plan can
// only ever invoke operations the host process explicitly registered.
type Step struct {
	Section string         `json:"section"`
	Op      string         `json:"op"`
	Args    map[string]any `json:"args"`
	Done    bool           `json:"done"`
}

// Plan is an ordered sequence of steps and a cursor pointing at the next
// step to execute. The cursor only moves forward during a run; Clear is the
// only way to reset it.
type Plan struct {
	Steps  []Step `json:"steps"`
	Cursor int    `json:"cursor"`
}

// New returns an empty plan.
func New() *Plan {
	return &Plan{}
}

// AppendStep adds a step to the end of the plan. Append-only: historical
// steps are never reordered or deleted.
func (p *Plan) AppendStep(section, op string, args map[string]any) {
	p.Steps = append(p.Steps, Step{Section: section, Op: op, Args: args})
}

// Clear drops all steps and resets the cursor.
func (p *Plan) Clear() {
	p.Steps = nil
	p.Cursor = 0
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	return len(p.Steps)
}

// Sections returns the distinct section names in the plan, sorted.
func (p *Plan) Sections() []string {
	seen := make(map[string]bool)

	for _, s := range p.Steps {
		seen[s.Section] = true
	}

	sections := make([]string, 0, len(seen))
	for name := range seen {
		sections = append(sections, name)
	}

	sort.Strings(sections)

	return sections
}

// Describe writes a human-readable listing of the plan to w.
func (p *Plan) Describe(w io.Writer) {
	fmt.Fprintf(w, "Plan: %d steps, cursor at %d\n", len(p.Steps), p.Cursor)

	for i, s := range p.Steps {
		verb := "RUN"
		if s.Done {
			verb = "RAN"
		}

		fmt.Fprintf(w, "%3d: (%s) %s %s %v\n", i, s.Section, verb, s.Op, s.Args)
	}
}

// Save serializes the full plan (steps with their done flags, plus the
// cursor) to path atomically.
func (p *Plan) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("plan: encoding: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("plan: writing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("plan: renaming %s: %w", tmpPath, err)
	}

	return nil
}

// Load deserializes a plan from path. Load(Save(p)) is structurally equal
// to p.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: reading %s: %w", path, err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: decoding %s: %w", path, err)
	}

	return &p, nil
}
