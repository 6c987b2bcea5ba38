// Package embeddings holds the in-memory reference embedding store
// queried by the per-camera inference loops.
package embeddings

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/technosupport/ts-attend/internal/data"
)

const DefaultReloadInterval = 60 * time.Second

// EmployeeMeta is the display metadata carried next to the vectors.
type EmployeeMeta struct {
	Name       string
	Department string
	IsActive   bool
}

type snapshot struct {
	// order is ascending employee id, fixing tie-break determinism.
	order []int
	byEmp map[int][][]float64
	meta  map[int]EmployeeMeta
}

// EmployeeLister is the slice of data.EmployeeModel the store needs.
type EmployeeLister interface {
	ListActive(ctx context.Context) ([]data.Employee, error)
}

// TemplateLister is the slice of data.FaceTemplateModel the store needs.
type TemplateLister interface {
	ListAll(ctx context.Context) ([]data.FaceTemplate, error)
}

// Store serves best-match queries over per-employee reference vectors
// loaded from storage. Reloads swap the snapshot atomically; readers
// always see a consistent view.
type Store struct {
	employees EmployeeLister
	templates TemplateLister

	reloadInterval time.Duration

	mu         sync.RWMutex
	snap       snapshot
	lastLoadTS time.Time
}

func NewStore(employees EmployeeLister, templates TemplateLister) *Store {
	return &Store{
		employees:      employees,
		templates:      templates,
		reloadInterval: DefaultReloadInterval,
	}
}

// Load refreshes the snapshot from storage. Rate-limited to one load
// per reload interval unless forced. Load failures keep the previous
// snapshot.
func (s *Store) Load(ctx context.Context, force bool) {
	s.mu.Lock()
	if !force && time.Since(s.lastLoadTS) < s.reloadInterval {
		s.mu.Unlock()
		return
	}
	s.lastLoadTS = time.Now()
	s.mu.Unlock()

	emps, err := s.employees.ListActive(ctx)
	if err != nil {
		log.Printf("[Embeddings] Employee reload failed: %v", err)
		return
	}
	templates, err := s.templates.ListAll(ctx)
	if err != nil {
		log.Printf("[Embeddings] Template reload failed: %v", err)
		return
	}

	meta := make(map[int]EmployeeMeta, len(emps))
	for _, e := range emps {
		meta[e.ID] = EmployeeMeta{Name: e.Name, Department: e.Department, IsActive: e.IsActive}
	}

	byEmp := make(map[int][][]float64)
	for _, t := range templates {
		v := normalize(t.Embedding)
		if v == nil {
			continue
		}
		byEmp[t.EmployeeID] = append(byEmp[t.EmployeeID], v)
	}

	order := make([]int, 0, len(byEmp))
	for id := range byEmp {
		order = append(order, id)
	}
	sort.Ints(order)

	s.mu.Lock()
	s.snap = snapshot{order: order, byEmp: byEmp, meta: meta}
	s.mu.Unlock()
}

// BestMatch returns the employee whose reference vectors are closest
// to the query by cosine similarity, with the similarity clamped to 0
// when negative. Ties break toward the lowest employee id. A miss is
// (0, false), not an error.
func (s *Store) BestMatch(query []float32) (int, float64, bool) {
	q := normalize(query)
	if q == nil {
		return 0, 0, false
	}

	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	bestEmp := 0
	bestSim := -1.0
	found := false
	for _, empID := range snap.order {
		for _, ref := range snap.byEmp[empID] {
			if len(ref) != len(q) {
				continue
			}
			sim := floats.Dot(q, ref)
			// Strict greater keeps the lowest-id winner on ties.
			if sim > bestSim {
				bestSim = sim
				bestEmp = empID
				found = true
			}
		}
	}
	if !found {
		return 0, 0, false
	}
	if bestSim < 0 {
		bestSim = 0
	}
	return bestEmp, bestSim, true
}

// Meta returns display metadata for an employee from the snapshot.
func (s *Store) Meta(employeeID int) (EmployeeMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.snap.meta[employeeID]
	return m, ok
}

func normalize(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	norm := floats.Norm(out, 2)
	if norm == 0 {
		return nil
	}
	floats.Scale(1/norm, out)
	return out
}
