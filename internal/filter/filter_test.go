package filter

import "testing"

func TestList_Add(t *testing.T) {
	l := NewList()
	if l.Len() != 0 {
		t.Fatalf("new list has %d rules", l.Len())
	}

	l.Add(".drift-partial", NoPrefixes|Directory|Perishable)
	l.Add("*.tmp", 0)

	rules := l.Rules()
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Pattern != ".drift-partial" {
		t.Errorf("first rule = %q, want insertion order preserved", rules[0].Pattern)
	}
	if rules[0].Flags&Perishable == 0 {
		t.Error("perishable flag lost")
	}
	if rules[1].Flags != 0 {
		t.Errorf("second rule flags = %b, want none", rules[1].Flags)
	}
}

func TestList_RulesIsACopy(t *testing.T) {
	l := NewList()
	l.Add("a", Directory)

	rules := l.Rules()
	rules[0].Pattern = "mutated"

	if l.Rules()[0].Pattern != "a" {
		t.Error("Rules() exposed internal state")
	}
}
