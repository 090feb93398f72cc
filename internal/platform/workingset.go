package platform

// Removal records why a platform left the working set.
type Removal struct {
	Platform Platform
	Stage    string
	Reason   string
}

// WorkingSet is the ordered set of platforms still in play for one
// orchestration run. Stages never mutate a set they received; they
// build a shrunk copy with Without and the orchestrator composes the
// copies. A platform removed once can never re-enter the same run.
type WorkingSet struct {
	order    []Platform
	members  map[Platform]bool
	removals []Removal
}

// NewWorkingSet builds a working set from the requested platforms,
// preserving order and dropping duplicates.
func NewWorkingSet(platforms []Platform) *WorkingSet {
	ws := &WorkingSet{members: make(map[Platform]bool)}
	for _, p := range platforms {
		if !ws.members[p] {
			ws.members[p] = true
			ws.order = append(ws.order, p)
		}
	}
	return ws
}

// Platforms returns the remaining platforms in order. The slice is a
// copy; callers may not use it to mutate the set.
func (ws *WorkingSet) Platforms() []Platform {
	out := make([]Platform, len(ws.order))
	copy(out, ws.order)
	return out
}

// Contains reports whether the platform is still in play.
func (ws *WorkingSet) Contains(p Platform) bool {
	return ws.members[p]
}

// Len returns the number of platforms still in play.
func (ws *WorkingSet) Len() int { return len(ws.order) }

// IsEmpty reports whether every platform has been quarantined.
func (ws *WorkingSet) IsEmpty() bool { return len(ws.order) == 0 }

// Removals returns every removal applied across the run, oldest first.
func (ws *WorkingSet) Removals() []Removal {
	out := make([]Removal, len(ws.removals))
	copy(out, ws.removals)
	return out
}

// Without returns a new working set with the given platforms removed.
// The removal history carries over so later copies still explain why
// earlier platforms disappeared. Unknown platforms are ignored.
func (ws *WorkingSet) Without(stage string, reasons map[Platform]string) *WorkingSet {
	next := &WorkingSet{
		members:  make(map[Platform]bool, len(ws.members)),
		removals: append([]Removal(nil), ws.removals...),
	}
	for _, p := range ws.order {
		if reason, drop := reasons[p]; drop {
			next.removals = append(next.removals, Removal{Platform: p, Stage: stage, Reason: reason})
			continue
		}
		next.members[p] = true
		next.order = append(next.order, p)
	}
	return next
}

// Clear returns a working set with every remaining platform removed for
// the same reason. Used for indeterminate failures where the offending
// platform cannot be isolated.
func (ws *WorkingSet) Clear(stage, reason string) *WorkingSet {
	reasons := make(map[Platform]string, len(ws.order))
	for _, p := range ws.order {
		reasons[p] = reason
	}
	return ws.Without(stage, reasons)
}
