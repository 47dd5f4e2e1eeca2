package workspace

// Diff describes how a workspace listing changed between two samples.
type Diff struct {
	Added   []Entry `json:"added,omitempty"`
	Removed []Entry `json:"removed,omitempty"`
	Changed []Entry `json:"changed,omitempty"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare returns the entries added, removed, or resized between before and
// after. Changed holds the after version of each resized entry.
func Compare(before, after []Entry) Diff {
	prev := make(map[string]Entry, len(before))
	for _, e := range before {
		prev[e.Name] = e
	}

	var d Diff
	seen := make(map[string]bool, len(after))
	for _, e := range after {
		seen[e.Name] = true
		old, ok := prev[e.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, e)
		case old.Size != e.Size || old.Preview != e.Preview:
			d.Changed = append(d.Changed, e)
		}
	}
	for _, e := range before {
		if !seen[e.Name] {
			d.Removed = append(d.Removed, e)
		}
	}
	return d
}
