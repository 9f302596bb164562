package view

import (
	"strconv"

	"github.com/floegence/redeven-ui/internal/conv"
)

// RunGroup is a maximal run of adjacent messages sharing a run id. Messages
// without a run id group by the same adjacency rule, so two neighboring
// run-less messages share a group while separated ones do not.
type RunGroup struct {
	// RunID is empty for run-less groups.
	RunID string
	// Key identifies the group for collapse toggling. It is the run id when
	// present, otherwise a positional fallback stable for a given list shape.
	Key string
	// Messages shares the underlying message pointers with the input list.
	Messages []*conv.Message
}

// GroupRuns partitions msgs into contiguous groups in one linear pass. A new
// group starts exactly when the run id differs from the previous message's.
func GroupRuns(msgs []*conv.Message) []RunGroup {
	if len(msgs) == 0 {
		return nil
	}

	var groups []RunGroup
	start := 0
	for i := 1; i <= len(msgs); i++ {
		if i < len(msgs) && msgs[i].RunID == msgs[start].RunID {
			continue
		}
		groups = append(groups, RunGroup{
			RunID:    msgs[start].RunID,
			Key:      groupKey(msgs[start].RunID, start),
			Messages: msgs[start:i],
		})
		start = i
	}
	return groups
}

func groupKey(runID string, startIndex int) string {
	if runID != "" {
		return runID
	}
	return "pos:" + strconv.Itoa(startIndex)
}
