package identity

import "sort"

// Table is an in-memory bijection built from a batch of correlations.
// Unmaterialized correlations are skipped.
type Table struct {
	byLocal  map[string]string
	byRemote map[string]string
}

// NewTable indexes correlations in both directions.
func NewTable(correlations ...Correlation) *Table {
	t := &Table{
		byLocal:  make(map[string]string, len(correlations)),
		byRemote: make(map[string]string, len(correlations)),
	}
	for _, c := range correlations {
		if !c.Materialized() {
			continue
		}
		t.byLocal[c.Local] = c.Remote
		t.byRemote[c.Remote] = c.Local
	}
	return t
}

// Len returns the number of materialized correlations.
func (t *Table) Len() int { return len(t.byLocal) }

// Local returns the local id for remote.
func (t *Table) Local(remote string) (string, bool) {
	local, ok := t.byRemote[remote]
	return local, ok
}

// Remote returns the remote id for local.
func (t *Table) Remote(local string) (string, bool) {
	remote, ok := t.byLocal[local]
	return remote, ok
}

// Remotes lists every remote id in the table, sorted.
func (t *Table) Remotes() []string {
	out := make([]string, 0, len(t.byRemote))
	for remote := range t.byRemote {
		out = append(out, remote)
	}
	sort.Strings(out)
	return out
}
