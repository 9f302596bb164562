// Package view derives render-ready conversation data from session snapshots:
// branch filtering, contiguous run grouping, collapse policy, search, and
// virtualization windowing. Everything here is a pure function of its inputs
// except the small stateful helpers (CollapseState, Searcher, Windower) that
// hold per-surface UI state.
package view

import "github.com/floegence/redeven-ui/internal/conv"

// BranchMessages returns the effective message list for the session's active
// branch.
//
// With no active branch the main line is returned (messages without a branch
// id). With an active branch the result is the main line up to and including
// the fork point, followed by every message tagged with the branch id, both
// segments in original order. A dangling branch or fork reference fails soft:
// the full unfiltered list is returned rather than an error or an empty view.
func BranchMessages(s *conv.Session) []*conv.Message {
	if s == nil {
		return nil
	}
	if s.ActiveBranchID == "" {
		return mainLine(s.Messages)
	}

	branch := s.BranchByID(s.ActiveBranchID)
	if branch == nil {
		return s.Messages
	}
	forkIdx := -1
	for i, m := range s.Messages {
		if m.ID == branch.ForkPointMessageID {
			forkIdx = i
			break
		}
	}
	if forkIdx < 0 {
		return s.Messages
	}

	out := make([]*conv.Message, 0, len(s.Messages))
	for _, m := range s.Messages[:forkIdx+1] {
		if m.BranchID == "" {
			out = append(out, m)
		}
	}
	for _, m := range s.Messages {
		if m.BranchID == s.ActiveBranchID {
			out = append(out, m)
		}
	}
	return out
}

func mainLine(msgs []*conv.Message) []*conv.Message {
	// Common case: no branch-tagged messages at all. Share the input slice.
	tagged := false
	for _, m := range msgs {
		if m.BranchID != "" {
			tagged = true
			break
		}
	}
	if !tagged {
		return msgs
	}
	out := make([]*conv.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.BranchID == "" {
			out = append(out, m)
		}
	}
	return out
}
