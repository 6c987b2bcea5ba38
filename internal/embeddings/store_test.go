package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-attend/internal/data"
)

type fakeEmployees struct {
	rows []data.Employee
	err  error
	hits int
}

func (f *fakeEmployees) ListActive(ctx context.Context) ([]data.Employee, error) {
	f.hits++
	return f.rows, f.err
}

type fakeTemplates struct {
	rows []data.FaceTemplate
	err  error
}

func (f *fakeTemplates) ListAll(ctx context.Context) ([]data.FaceTemplate, error) {
	return f.rows, f.err
}

func newTestStore(t *testing.T) (*Store, *fakeEmployees, *fakeTemplates) {
	t.Helper()
	emps := &fakeEmployees{rows: []data.Employee{
		{ID: 5, Name: "Sari", Department: "Production", IsActive: true},
		{ID: 7, Name: "Budi", Department: "Logistics", IsActive: true},
	}}
	tmpls := &fakeTemplates{rows: []data.FaceTemplate{
		{EmployeeID: 7, Embedding: []float32{1, 0, 0}},
		{EmployeeID: 5, Embedding: []float32{0, 1, 0}},
	}}
	s := NewStore(emps, tmpls)
	s.Load(context.Background(), true)
	return s, emps, tmpls
}

func TestBestMatch(t *testing.T) {
	s, _, _ := newTestStore(t)

	id, sim, ok := s.BestMatch([]float32{0.95, 0.05, 0})
	require.True(t, ok)
	assert.Equal(t, 7, id)
	assert.Greater(t, sim, 0.9)
}

func TestBestMatchClampsNegative(t *testing.T) {
	s := NewStore(&fakeEmployees{}, &fakeTemplates{rows: []data.FaceTemplate{
		{EmployeeID: 7, Embedding: []float32{1, 0}},
	}})
	s.Load(context.Background(), true)

	id, sim, ok := s.BestMatch([]float32{-1, 0})
	require.True(t, ok)
	assert.Equal(t, 7, id)
	assert.Equal(t, 0.0, sim)
}

func TestBestMatchTieBreaksLowestID(t *testing.T) {
	s := NewStore(&fakeEmployees{}, &fakeTemplates{rows: []data.FaceTemplate{
		{EmployeeID: 9, Embedding: []float32{1, 0}},
		{EmployeeID: 4, Embedding: []float32{1, 0}},
	}})
	s.Load(context.Background(), true)

	id, _, ok := s.BestMatch([]float32{1, 0})
	require.True(t, ok)
	assert.Equal(t, 4, id)
}

func TestBestMatchEmptyInputs(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, _, ok := s.BestMatch(nil)
	assert.False(t, ok)
	_, _, ok = s.BestMatch([]float32{0, 0, 0})
	assert.False(t, ok)

	// Dimension mismatch never matches.
	_, _, ok = s.BestMatch([]float32{1, 0})
	assert.False(t, ok)
}

func TestLoadRateLimited(t *testing.T) {
	s, emps, _ := newTestStore(t)
	require.Equal(t, 1, emps.hits)

	// Within the interval: skipped.
	s.Load(context.Background(), false)
	assert.Equal(t, 1, emps.hits)

	// Forced: reloads.
	s.Load(context.Background(), true)
	assert.Equal(t, 2, emps.hits)

	// Expired interval: reloads.
	s.reloadInterval = time.Nanosecond
	time.Sleep(time.Millisecond)
	s.Load(context.Background(), false)
	assert.Equal(t, 3, emps.hits)
}

func TestLoadFailureKeepsSnapshot(t *testing.T) {
	s, emps, _ := newTestStore(t)
	emps.err = errors.New("db down")

	s.Load(context.Background(), true)

	id, _, ok := s.BestMatch([]float32{1, 0, 0})
	require.True(t, ok)
	assert.Equal(t, 7, id)
}

func TestMeta(t *testing.T) {
	s, _, _ := newTestStore(t)

	m, ok := s.Meta(5)
	require.True(t, ok)
	assert.Equal(t, "Sari", m.Name)
	assert.Equal(t, "Production", m.Department)

	_, ok = s.Meta(99)
	assert.False(t, ok)
}
