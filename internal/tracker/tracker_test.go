package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-attend/internal/face"
)

func cfg() Config {
	return Config{IoUThreshold: 0.3, MinVotes: 3, MaxMisses: 8}
}

func box(x, y int) face.BBox {
	return face.BBox{X1: x, Y1: y, X2: x + 100, Y2: y + 100}
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 9, 9, 0, sec, 0, time.UTC)
}

func TestNewTrackPerDetection(t *testing.T) {
	tr := New(cfg())
	seen := tr.Update([]Observation{
		{Box: box(0, 0)},
		{Box: box(500, 0)},
	}, at(0))

	assert.Empty(t, seen)
	require.Equal(t, 2, tr.Len())
	tracks := tr.Tracks()
	assert.Equal(t, 1, tracks[0].ID)
	assert.Equal(t, 2, tracks[1].ID)
}

func TestAssociationByIoU(t *testing.T) {
	tr := New(cfg())
	tr.Update([]Observation{{Box: box(0, 0)}}, at(0))

	// Slightly shifted box matches the existing track.
	tr.Update([]Observation{{Box: box(10, 5)}}, at(1))
	require.Equal(t, 1, tr.Len())
	tk := tr.Tracks()[0]
	assert.Equal(t, 2, tk.Hits)
	assert.Equal(t, box(10, 5), tk.Box)

	// Far-away box starts a second track.
	tr.Update([]Observation{{Box: box(10, 5)}, {Box: box(400, 400)}}, at(2))
	assert.Equal(t, 2, tr.Len())
}

func TestVotingFinalizesAtMinVotes(t *testing.T) {
	tr := New(cfg())

	var seen []Seen
	for i := 0; i < 3; i++ {
		seen = tr.Update([]Observation{{Box: box(i*5, 0), CandidateID: 7, Similarity: 0.8}}, at(i))
	}

	require.Len(t, seen, 1)
	assert.Equal(t, 7, seen[0].EmployeeID)
	assert.Equal(t, 0.8, seen[0].Similarity)
	assert.Equal(t, 1, seen[0].TrackID)

	tk := tr.Tracks()[0]
	assert.Equal(t, 7, tk.FinalEmployeeID)
	assert.Equal(t, at(2), tk.FinalSince)

	// Further matches keep reporting the finalized identity.
	seen = tr.Update([]Observation{{Box: box(20, 0), CandidateID: 7, Similarity: 0.9}}, at(3))
	require.Len(t, seen, 1)
	assert.Equal(t, at(2), tr.Tracks()[0].FinalSince) // not re-stamped
}

func TestVotingSuppressesOutlier(t *testing.T) {
	tr := New(cfg())

	// One rogue vote for 9 among votes for 7 never finalizes 9.
	candidates := []int{7, 9, 7, 7}
	var final []Seen
	for i, c := range candidates {
		final = tr.Update([]Observation{{Box: box(i*5, 0), CandidateID: c, Similarity: 0.7}}, at(i))
	}
	require.Len(t, final, 1)
	assert.Equal(t, 7, final[0].EmployeeID)
}

func TestGeometryOnlyObservationsDoNotVote(t *testing.T) {
	tr := New(cfg())
	for i := 0; i < 5; i++ {
		seen := tr.Update([]Observation{{Box: box(i*5, 0)}}, at(i))
		assert.Empty(t, seen)
	}
	tk := tr.Tracks()[0]
	assert.Equal(t, 0, tk.FinalEmployeeID)
	assert.Equal(t, 5, tk.Hits)
}

func TestEvictionAfterMaxMisses(t *testing.T) {
	tr := New(Config{IoUThreshold: 0.3, MinVotes: 3, MaxMisses: 2})
	tr.Update([]Observation{{Box: box(0, 0)}}, at(0))

	tr.Update(nil, at(1)) // miss 1
	tr.Update(nil, at(2)) // miss 2
	assert.Equal(t, 1, tr.Len())
	tr.Update(nil, at(3)) // miss 3 > max 2
	assert.Equal(t, 0, tr.Len())
}

func TestVoteRingIsBounded(t *testing.T) {
	tr := New(Config{IoUThreshold: 0.3, MinVotes: 5, MaxMisses: 8})

	// 8 early votes for 7, then a long run for 9: the ring forgets 7.
	for i := 0; i < 8; i++ {
		tr.Update([]Observation{{Box: box(0, 0), CandidateID: 7}}, at(i))
	}
	var seen []Seen
	for i := 8; i < 16; i++ {
		seen = tr.Update([]Observation{{Box: box(0, 0), CandidateID: 9, Similarity: 0.75}}, at(i))
	}
	require.Len(t, seen, 1)
	assert.Equal(t, 9, seen[0].EmployeeID)
}

func TestTrackIDsMonotonic(t *testing.T) {
	tr := New(Config{IoUThreshold: 0.3, MinVotes: 3, MaxMisses: 0})
	tr.Update([]Observation{{Box: box(0, 0)}}, at(0))
	tr.Update(nil, at(1)) // evict track 1
	require.Equal(t, 0, tr.Len())

	tr.Update([]Observation{{Box: box(0, 0)}}, at(2))
	assert.Equal(t, 2, tr.Tracks()[0].ID) // ids never reused
}
