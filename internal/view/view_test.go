package view

import (
	"testing"

	"github.com/floegence/redeven-ui/internal/conv"
)

func msg(id, role, runID string) *conv.Message {
	return &conv.Message{ID: id, Role: conv.Role(role), RunID: runID}
}

func TestBranchMessages_NoActiveBranchReturnsMainLine(t *testing.T) {
	t.Parallel()

	s := &conv.Session{
		ID: "s1",
		Messages: []*conv.Message{
			msg("m1", "user", ""),
			{ID: "m2", Role: conv.RoleAssistant, BranchID: "b1"},
			msg("m3", "assistant", ""),
		},
	}

	got := BranchMessages(s)
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m3" {
		t.Fatalf("main line got=%v", ids(got))
	}
}

func TestBranchMessages_NoBranchTagsSharesInputSlice(t *testing.T) {
	t.Parallel()

	s := &conv.Session{
		ID:       "s1",
		Messages: []*conv.Message{msg("m1", "user", ""), msg("m2", "assistant", "")},
	}

	got := BranchMessages(s)
	if &got[0] != &s.Messages[0] {
		t.Fatalf("unbranched session must share the message slice")
	}
}

func TestBranchMessages_ActiveBranchConcatenatesAtForkPoint(t *testing.T) {
	t.Parallel()

	s := &conv.Session{
		ID:             "s1",
		ActiveBranchID: "b1",
		Branches:       []conv.Branch{{ID: "b1", ForkPointMessageID: "m2"}},
		Messages: []*conv.Message{
			msg("m1", "user", ""),
			msg("m2", "assistant", ""),
			msg("m3", "user", ""), // main line after fork, excluded
			{ID: "m4", Role: conv.RoleAssistant, BranchID: "b1"},
			{ID: "m5", Role: conv.RoleAssistant, BranchID: "b2"},
			{ID: "m6", Role: conv.RoleUser, BranchID: "b1"},
		},
	}

	got := ids(BranchMessages(s))
	want := []string{"m1", "m2", "m4", "m6"}
	if !equalStrings(got, want) {
		t.Fatalf("branch view got=%v want=%v", got, want)
	}
}

func TestBranchMessages_DanglingForkPointFailsSoft(t *testing.T) {
	t.Parallel()

	s := &conv.Session{
		ID:             "s1",
		ActiveBranchID: "b1",
		Branches:       []conv.Branch{{ID: "b1", ForkPointMessageID: "gone"}},
		Messages:       []*conv.Message{msg("m1", "user", ""), msg("m2", "assistant", "")},
	}

	got := BranchMessages(s)
	if len(got) != len(s.Messages) {
		t.Fatalf("dangling fork point must return the unfiltered list, got=%v", ids(got))
	}
}

func TestBranchMessages_UnknownActiveBranchFailsSoft(t *testing.T) {
	t.Parallel()

	s := &conv.Session{
		ID:             "s1",
		ActiveBranchID: "ghost",
		Messages:       []*conv.Message{msg("m1", "user", "")},
	}

	if got := BranchMessages(s); len(got) != 1 {
		t.Fatalf("unknown branch must return the unfiltered list, got=%v", ids(got))
	}
}

func TestGroupRuns_AdjacencyBoundaries(t *testing.T) {
	t.Parallel()

	msgs := []*conv.Message{
		msg("u1", "user", ""),
		msg("a1", "assistant", "r1"),
		msg("t1", "tool", "r1"),
		msg("a2", "assistant", "r2"),
	}

	groups := GroupRuns(msgs)
	if len(groups) != 3 {
		t.Fatalf("groups len got=%d want=3", len(groups))
	}
	if groups[0].RunID != "" || len(groups[0].Messages) != 1 || groups[0].Messages[0].ID != "u1" {
		t.Fatalf("group 0 got=%+v", groups[0])
	}
	if groups[1].RunID != "r1" || len(groups[1].Messages) != 2 {
		t.Fatalf("group 1 got=%+v", groups[1])
	}
	if groups[2].RunID != "r2" || len(groups[2].Messages) != 1 {
		t.Fatalf("group 2 got=%+v", groups[2])
	}
}

func TestGroupRuns_AdjacentRunlessMessagesShareGroup(t *testing.T) {
	t.Parallel()

	msgs := []*conv.Message{
		msg("u1", "user", ""),
		msg("u2", "user", ""),
		msg("a1", "assistant", "r1"),
		msg("u3", "user", ""),
	}

	groups := GroupRuns(msgs)
	if len(groups) != 3 {
		t.Fatalf("groups len got=%d want=3", len(groups))
	}
	if len(groups[0].Messages) != 2 {
		t.Fatalf("adjacent run-less messages must share a group, got=%d", len(groups[0].Messages))
	}
	if groups[0].Key == groups[2].Key {
		t.Fatalf("positional keys must differ for separated run-less groups")
	}
}

func TestIsCollapsed_DefaultPolicy(t *testing.T) {
	t.Parallel()

	total := 3
	want := []bool{true, true, false}
	for i := 0; i < total; i++ {
		if got := IsCollapsed(i, total, "k", nil); got != want[i] {
			t.Fatalf("index %d got=%v want=%v", i, got, want[i])
		}
	}
	if IsCollapsed(0, 1, "k", nil) {
		t.Fatalf("a single group must render expanded")
	}
}

func TestCollapseState_ToggleAndSessionReset(t *testing.T) {
	t.Parallel()

	c := NewCollapseState()
	c.SetSession("s1")
	c.Toggle("r1")

	if !c.IsCollapsed(2, 3, "r1") {
		t.Fatalf("toggled last group must be collapsed")
	}

	c.SetSession("s1") // same session, toggles survive
	if !c.IsCollapsed(2, 3, "r1") {
		t.Fatalf("toggles must survive re-pointing at the same session")
	}

	c.SetSession("s2") // session change resets
	if c.IsCollapsed(2, 3, "r1") {
		t.Fatalf("session change must reset manual toggles")
	}
}

func TestCollapseState_ExpandAllCollapseAll(t *testing.T) {
	t.Parallel()

	groups := GroupRuns([]*conv.Message{
		msg("a1", "assistant", "r1"),
		msg("a2", "assistant", "r2"),
		msg("a3", "assistant", "r3"),
	})

	c := NewCollapseState()
	c.ExpandAll(groups)
	for i, g := range groups {
		if c.IsCollapsed(i, len(groups), g.Key) {
			t.Fatalf("group %d collapsed after ExpandAll", i)
		}
	}

	c.CollapseAll(groups)
	for i, g := range groups {
		if !c.IsCollapsed(i, len(groups), g.Key) {
			t.Fatalf("group %d expanded after CollapseAll", i)
		}
	}
}

func TestCollapseState_ExpandForSearchFlipsOnlyMatchedGroups(t *testing.T) {
	t.Parallel()

	groups := GroupRuns([]*conv.Message{
		msg("a1", "assistant", "r1"),
		msg("a2", "assistant", "r2"),
		msg("a3", "assistant", "r3"),
	})

	c := NewCollapseState()
	c.ExpandForSearch(groups, []string{"a1"})

	if c.IsCollapsed(0, 3, groups[0].Key) {
		t.Fatalf("matched group must be expanded")
	}
	if !c.IsCollapsed(1, 3, groups[1].Key) {
		t.Fatalf("unmatched group must keep its default state")
	}
	if c.IsCollapsed(2, 3, groups[2].Key) {
		t.Fatalf("last group default must be untouched")
	}
}

func ids(msgs []*conv.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
