// Package filter holds the rule list consumed by the path-matching engine.
// The negotiation layer only installs rules into it; matching itself lives
// with the file-list code.
package filter

import "sync"

// RuleFlag modifies how a rule is matched and when it may be discarded.
type RuleFlag uint32

const (
	// NoPrefixes disables the usual include/exclude prefix parsing; the
	// pattern is taken literally.
	NoPrefixes RuleFlag = 1 << iota

	// Directory restricts the rule to matching directories.
	Directory

	// Perishable marks a rule that directory pruning is allowed to drop.
	Perishable
)

// Rule is one pattern entry in a rule list.
type Rule struct {
	Pattern string
	Flags   RuleFlag
}

// List is an ordered collection of rules. It is safe for concurrent use;
// rules are appended during setup and read by the matching engine afterward.
type List struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewList creates an empty rule list.
func NewList() *List {
	return &List{}
}

// Add appends a rule to the list.
func (l *List) Add(pattern string, flags RuleFlag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = append(l.rules, Rule{Pattern: pattern, Flags: flags})
}

// Rules returns a copy of the current rule list in insertion order.
func (l *List) Rules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Len reports the number of installed rules.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rules)
}
