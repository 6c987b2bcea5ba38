// Package tracker is the short-lived per-camera multi-object tracker.
// Greedy IoU association with per-track identity voting: a track only
// reports an employee once a plurality of its recent candidate votes
// agrees, which suppresses single-frame misidentifications.
package tracker

import (
	"sort"
	"time"

	"github.com/technosupport/ts-attend/internal/face"
)

const voteCapacity = 8

// Observation is one detection forwarded by the inference loop.
// CandidateID is 0 when the frame produced no accepted identity; the
// box still drives geometric association.
type Observation struct {
	Box         face.BBox
	CandidateID int
	Similarity  float64
	Quality     float64
}

// Seen is emitted when a finalized track was updated this frame.
type Seen struct {
	EmployeeID int
	Similarity float64
	TrackID    int
}

// Track associates successive detections of one face.
type Track struct {
	ID     int
	Box    face.BBox
	LastTS time.Time
	Hits   int
	Misses int

	votes   []int // bounded ring of recent candidate ids
	votePos int

	FinalEmployeeID int // 0 until the vote settles
	FinalSince      time.Time
}

func (t *Track) pushVote(candidateID int) {
	if len(t.votes) < voteCapacity {
		t.votes = append(t.votes, candidateID)
		return
	}
	t.votes[t.votePos] = candidateID
	t.votePos = (t.votePos + 1) % voteCapacity
}

// plurality returns the most voted candidate and its count. Ties
// break toward the lowest employee id for determinism.
func (t *Track) plurality() (int, int) {
	counts := make(map[int]int, len(t.votes))
	for _, v := range t.votes {
		counts[v]++
	}
	best, bestCount := 0, 0
	for id, c := range counts {
		if c > bestCount || (c == bestCount && id < best) {
			best, bestCount = id, c
		}
	}
	return best, bestCount
}

// Config are the association and smoothing knobs.
type Config struct {
	IoUThreshold float64
	MinVotes     int
	MaxMisses    int
}

// Tracker owns the track table for one camera. Not safe for
// concurrent use; each camera's inference goroutine is the sole
// caller.
type Tracker struct {
	cfg    Config
	tracks map[int]*Track
	nextID int
}

func New(cfg Config) *Tracker {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.MinVotes < 1 {
		cfg.MinVotes = 1
	}
	if cfg.MaxMisses < 1 {
		cfg.MaxMisses = 1
	}
	return &Tracker{cfg: cfg, tracks: make(map[int]*Track), nextID: 1}
}

// Len returns the live track count.
func (tr *Tracker) Len() int {
	return len(tr.tracks)
}

// Tracks returns the live tracks, ascending id. Callers must not
// retain the pointers across updates.
func (tr *Tracker) Tracks() []*Track {
	out := make([]*Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update associates the frame's observations with the track table and
// returns a seen-signal for every finalized track updated this frame.
func (tr *Tracker) Update(obs []Observation, now time.Time) []Seen {
	unmatched := make(map[int]bool, len(obs))
	for i := range obs {
		unmatched[i] = true
	}

	// Greedy best-IoU per track, ascending track id for determinism.
	type assignment struct {
		track *Track
		det   int
	}
	var assignments []assignment
	for _, t := range tr.Tracks() {
		bestIoU := 0.0
		bestIdx := -1
		for j := range obs {
			if !unmatched[j] {
				continue
			}
			iou := t.Box.IoU(obs[j].Box)
			if iou > bestIoU {
				bestIoU = iou
				bestIdx = j
			}
		}
		if bestIdx >= 0 && bestIoU >= tr.cfg.IoUThreshold {
			assignments = append(assignments, assignment{track: t, det: bestIdx})
			delete(unmatched, bestIdx)
		} else {
			t.Misses++
		}
	}

	var seen []Seen
	for _, a := range assignments {
		o := obs[a.det]
		t := a.track
		t.Box = o.Box
		t.LastTS = now
		t.Hits++
		t.Misses = 0
		if o.CandidateID != 0 {
			t.pushVote(o.CandidateID)
			winner, count := t.plurality()
			if winner != 0 && count >= tr.cfg.MinVotes {
				t.FinalEmployeeID = winner
				if t.FinalSince.IsZero() {
					t.FinalSince = now
				}
				seen = append(seen, Seen{EmployeeID: winner, Similarity: o.Similarity, TrackID: t.ID})
			}
		}
	}

	// Unmatched observations start fresh tracks.
	for j := 0; j < len(obs); j++ {
		if !unmatched[j] {
			continue
		}
		o := obs[j]
		t := &Track{ID: tr.nextID, Box: o.Box, LastTS: now, Hits: 1}
		tr.nextID++
		if o.CandidateID != 0 {
			t.pushVote(o.CandidateID)
		}
		tr.tracks[t.ID] = t
	}

	// Eviction.
	for id, t := range tr.tracks {
		if t.Misses > tr.cfg.MaxMisses {
			delete(tr.tracks, id)
		}
	}

	return seen
}
