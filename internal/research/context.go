// Package research implements the bounded per-file Deep Research iterator
// used for Important and Core tier files. Iterations for one file are
// strictly sequential; each iteration's prompt depends on the prior
// iteration's accumulated context.
package research

import (
	"encoding/json"
	"strings"
	"time"
)

// IterationPhase tags where an iteration sits in the state machine.
type IterationPhase string

const (
	PhasePlanning      IterationPhase = "planning"
	PhaseInvestigating IterationPhase = "investigating"
	PhaseSynthesizing  IterationPhase = "synthesizing"
)

// Iteration is the record of one research round.
type Iteration struct {
	Phase      IterationPhase `json:"phase"`
	Round      int            `json:"round"`
	Findings   string         `json:"findings"`
	NewAspects []string       `json:"new_aspects"`
	At         time.Time      `json:"at"`
}

// Context accumulates a file's research iterations in memory. It lives for
// the duration of one file's research run and is serialized into the file's
// checkpoint at the end for resumability.
type Context struct {
	Path       string
	iterations []Iteration
	covered    map[string]bool // lowercase aspect names
}

// NewContext creates an empty research context for a file.
func NewContext(path string) *Context {
	return &Context{
		Path:    path,
		covered: make(map[string]bool),
	}
}

// IsCovered reports whether an aspect was already recorded, case-insensitively.
func (c *Context) IsCovered(aspect string) bool {
	return c.covered[strings.ToLower(strings.TrimSpace(aspect))]
}

// AddIteration appends an iteration record. Aspects already covered are
// dropped from the record so repeated rounds cannot re-report the same
// aspect; the returned slice holds the aspects that were genuinely new.
func (c *Context) AddIteration(it Iteration) []string {
	var fresh []string
	for _, aspect := range it.NewAspects {
		key := strings.ToLower(strings.TrimSpace(aspect))
		if key == "" || c.covered[key] {
			continue
		}
		c.covered[key] = true
		fresh = append(fresh, aspect)
	}
	it.NewAspects = fresh
	it.At = time.Now()
	c.iterations = append(c.iterations, it)
	return fresh
}

// Iterations returns the ordered iteration records.
func (c *Context) Iterations() []Iteration {
	return c.iterations
}

// CoveredCount returns the number of distinct covered aspects.
func (c *Context) CoveredCount() int {
	return len(c.covered)
}

// Serialize renders the iteration history for checkpoint storage.
func (c *Context) Serialize() ([]byte, error) {
	return json.Marshal(c.iterations)
}

// PriorFindings concatenates findings from all iterations so far, for use as
// read-only context in the next iteration's prompt.
func (c *Context) PriorFindings() string {
	var b strings.Builder
	for _, it := range c.iterations {
		if it.Findings == "" {
			continue
		}
		b.WriteString(string(it.Phase))
		b.WriteString(": ")
		b.WriteString(it.Findings)
		b.WriteString("\n")
	}
	return b.String()
}
