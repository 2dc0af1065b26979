package migrate

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMultipleHeads is returned when "head" is requested on a branched graph
	ErrMultipleHeads = errors.New("multiple head revisions are present; upgrade to 'heads' instead")
	// ErrUnknownRevision is returned for revision ids that are not in the graph
	ErrUnknownRevision = errors.New("can't locate revision identified by id")
)

// Revision is one schema change
type Revision struct {
	ID           string
	DownRevision string
	// SQL overrides the embedded file per dialect
	SQL map[string]string
}

// Graph indexes revisions by id
type Graph struct {
	revisions map[string]Revision
	order     []string
}

// NewGraph validates that ids are unique and every down revision exists
func NewGraph(revs []Revision) (*Graph, error) {
	g := &Graph{revisions: make(map[string]Revision, len(revs))}
	for _, r := range revs {
		if r.ID == "" {
			return nil, errors.New("revision id must be set")
		}
		if _, dup := g.revisions[r.ID]; dup {
			return nil, fmt.Errorf("duplicate revision %s", r.ID)
		}
		g.revisions[r.ID] = r
		g.order = append(g.order, r.ID)
	}
	for _, r := range revs {
		if r.DownRevision == "" {
			continue
		}
		if _, ok := g.revisions[r.DownRevision]; !ok {
			return nil, fmt.Errorf("revision %s builds on unknown revision %s", r.ID, r.DownRevision)
		}
	}
	return g, nil
}

// Heads returns the revisions nothing builds on, sorted by id
func (g *Graph) Heads() []string {
	referenced := make(map[string]bool, len(g.revisions))
	for _, r := range g.revisions {
		if r.DownRevision != "" {
			referenced[r.DownRevision] = true
		}
	}
	var heads []string
	for id := range g.revisions {
		if !referenced[id] {
			heads = append(heads, id)
		}
	}
	sort.Strings(heads)
	return heads
}

// Has reports whether id is part of the graph
func (g *Graph) Has(id string) bool {
	_, ok := g.revisions[id]
	return ok
}

// Path returns the revisions from the base up to and including target
func (g *Graph) Path(target string) ([]Revision, error) {
	var path []Revision
	seen := make(map[string]bool)
	for id := target; id != ""; {
		r, ok := g.revisions[id]
		if !ok {
			return nil, unknownRevision(id)
		}
		if seen[id] {
			return nil, fmt.Errorf("revision cycle at %s", id)
		}
		seen[id] = true
		path = append(path, r)
		id = r.DownRevision
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

func unknownRevision(id string) error {
	return fmt.Errorf("%w '%s'", ErrUnknownRevision, id)
}
