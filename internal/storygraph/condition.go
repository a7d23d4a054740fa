package storygraph

import (
	"fmt"
	"strings"

	"github.com/talgya/story-engine/internal/story"
)

// CondKind tags what a Condition tests.
type CondKind uint8

const (
	// CondAlways holds unconditionally. Empty and unrecognized condition
	// strings parse to it.
	CondAlways CondKind = iota
	// CondFlag compares a story flag.
	CondFlag
	// CondDecision compares the option chosen for a decision.
	CondDecision
)

// Condition gates an edge. It is parsed once when the edge is added.
//
// Accepted forms:
//
//	flag_name:true       flag is truthy
//	flag_name:false      flag is falsy or unset
//	flag_name:<literal>  flag's printed value equals literal
//	decision:code:option decision code was resolved with option
type Condition struct {
	Kind  CondKind
	Raw   string
	Name  string
	Value string
}

// ParseCondition parses a condition string. It never fails: shapes it does
// not recognize hold unconditionally.
func ParseCondition(raw string) Condition {
	c := Condition{Kind: CondAlways, Raw: raw}
	if raw == "" {
		return c
	}
	parts := strings.Split(raw, ":")
	switch {
	case len(parts) == 2:
		c.Kind, c.Name, c.Value = CondFlag, parts[0], parts[1]
	case len(parts) == 3 && parts[0] == "decision":
		c.Kind, c.Name, c.Value = CondDecision, parts[1], parts[2]
	}
	return c
}

// Conditional reports whether the edge carries any condition text.
func (c Condition) Conditional() bool {
	return c.Raw != ""
}

// Satisfied evaluates the condition against a room's decisions and flags.
func (c Condition) Satisfied(decisions map[string]string, flags map[string]any) bool {
	switch c.Kind {
	case CondFlag:
		actual, ok := flags[c.Name]
		switch strings.ToLower(c.Value) {
		case "true":
			return story.Truthy(actual)
		case "false":
			return !story.Truthy(actual)
		}
		return ok && actual != nil && fmt.Sprint(actual) == c.Value
	case CondDecision:
		chosen, ok := decisions[c.Name]
		return ok && chosen == c.Value
	}
	return true
}

func (c Condition) String() string {
	return c.Raw
}

// MarshalText encodes the condition as its source string.
func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.Raw), nil
}

// UnmarshalText parses a condition string.
func (c *Condition) UnmarshalText(b []byte) error {
	*c = ParseCondition(string(b))
	return nil
}
