package lineage

import "fmt"

// checkCycleLocked verifies that adding references sourceID → related would
// not close a loop in the reference graph. Caller holds the store lock.
//
// The walk is an explicit worklist DFS (no recursion): each frame carries the
// path from the source so a detected loop can be reported verbatim. A node
// already on its own path is a cycle; the traversal refuses paths longer
// than the configured depth bound rather than walking a pathological graph.
func (m *MemoryStore) checkCycleLocked(sourceID string, related []string) error {
	type frame struct {
		id   string
		path []string
	}

	stack := make([]frame, 0, len(related))
	for i := len(related) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: related[i], path: []string{sourceID}})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, seen := range f.path {
			if seen == f.id {
				return &CycleError{Path: append(f.path, f.id)}
			}
		}
		if len(f.path) >= m.maxDepth {
			return fmt.Errorf("cycle check from %s: %w (limit %d)", sourceID, ErrDepthExceeded, m.maxDepth)
		}

		rec, ok := m.records[f.id]
		if !ok {
			continue
		}
		path := make([]string, len(f.path)+1)
		copy(path, f.path)
		path[len(f.path)] = f.id
		for i := len(rec.ReferenceIDs) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: rec.ReferenceIDs[i], path: path})
		}
	}
	return nil
}
