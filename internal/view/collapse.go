package view

// ToggleSet holds group keys whose collapse state is inverted relative to the
// default policy.
type ToggleSet map[string]struct{}

// Toggle flips one key's membership.
func (t ToggleSet) Toggle(key string) {
	if _, ok := t[key]; ok {
		delete(t, key)
	} else {
		t[key] = struct{}{}
	}
}

// IsCollapsed reports whether the group at index (of total groups) renders
// collapsed. Default policy: every group except the last is collapsed. A key
// present in manual inverts the default.
func IsCollapsed(index, total int, key string, manual ToggleSet) bool {
	def := index < total-1
	if _, ok := manual[key]; ok {
		return !def
	}
	return def
}

// CollapseState tracks one display surface's manual toggles. Toggles are
// scoped to a session: pointing the state at a different session resets them.
type CollapseState struct {
	sessionID string
	manual    ToggleSet
}

// NewCollapseState returns an empty collapse state.
func NewCollapseState() *CollapseState {
	return &CollapseState{manual: make(ToggleSet)}
}

// SetSession scopes the state to a session, clearing all manual toggles when
// the session changes.
func (c *CollapseState) SetSession(sessionID string) {
	if c.sessionID == sessionID {
		return
	}
	c.sessionID = sessionID
	c.manual = make(ToggleSet)
}

// Toggle flips one group's state.
func (c *CollapseState) Toggle(key string) {
	c.manual.Toggle(key)
}

// IsCollapsed applies the default policy plus manual toggles.
func (c *CollapseState) IsCollapsed(index, total int, key string) bool {
	return IsCollapsed(index, total, key, c.manual)
}

// ExpandAll makes every group render expanded by toggling exactly the keys
// whose default state is collapsed.
func (c *CollapseState) ExpandAll(groups []RunGroup) {
	c.manual = make(ToggleSet)
	for i, g := range groups {
		if i < len(groups)-1 {
			c.manual[g.Key] = struct{}{}
		}
	}
}

// CollapseAll makes every group render collapsed. Under the default policy
// only the last group disagrees.
func (c *CollapseState) CollapseAll(groups []RunGroup) {
	c.manual = make(ToggleSet)
	if n := len(groups); n > 0 {
		c.manual[groups[n-1].Key] = struct{}{}
	}
}

// ExpandForSearch expands every currently-collapsed group containing a search
// match, touching no other manual state. matchIDs holds matching message ids.
func (c *CollapseState) ExpandForSearch(groups []RunGroup, matchIDs []string) {
	if len(matchIDs) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(matchIDs))
	for _, id := range matchIDs {
		ids[id] = struct{}{}
	}
	for i, g := range groups {
		if !c.IsCollapsed(i, len(groups), g.Key) {
			continue
		}
		for _, m := range g.Messages {
			if _, ok := ids[m.ID]; ok {
				c.manual.Toggle(g.Key)
				break
			}
		}
	}
}
