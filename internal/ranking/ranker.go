// Package ranking scores items against reference vectors and produces sorted,
// threshold-filtered result lists. Scans are brute-force linear; all vectors
// in one ranking call must come from the same embedding model.
package ranking

import (
	"math"
	"sort"

	"github.com/hyperjump/mitsuke/pkg/utils"
)

// Item is one candidate with zero or more feature vectors. Items with no
// features are excluded from ranking (their score is undefined, not zero).
type Item struct {
	ID       string
	Features [][]float32
}

// Match is one ranked result. For the distance variant, Score is 1 - distance
// for display consistency with the similarity scale; it is not a cosine
// similarity.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// ThresholdMode selects how a cutoff is interpreted.
type ThresholdMode int

const (
	// ThresholdNone disables filtering.
	ThresholdNone ThresholdMode = iota
	// ThresholdAbsolute drops items scoring below Value.
	ThresholdAbsolute
	// ThresholdRelative drops items scoring below Value percent of the
	// top-ranked item's score. Only applied when the top score is positive;
	// otherwise all non-negative scores pass.
	ThresholdRelative
)

// Threshold is a cutoff policy for similarity ranking.
type Threshold struct {
	Mode  ThresholdMode
	Value float64
}

// BestSimilarity returns the maximum cosine similarity over the Cartesian
// product of features x refs, and whether the item had any features to score.
// An item containing any feature that best-matches any reference ranks by
// that single pair, deliberately not an average over pairs.
func BestSimilarity(features, refs [][]float32) (float64, bool) {
	if len(features) == 0 || len(refs) == 0 {
		return 0, false
	}
	best := math.Inf(-1)
	for _, f := range features {
		f = utils.EnsureUnit(f)
		for _, r := range refs {
			if s := utils.Dot(f, utils.EnsureUnit(r)); s > best {
				best = s
			}
		}
	}
	return best, true
}

// BestDistance returns the minimum euclidean distance over the Cartesian
// product of features x refs, and whether the item had any features.
func BestDistance(features, refs [][]float32) (float64, bool) {
	if len(features) == 0 || len(refs) == 0 {
		return 0, false
	}
	best := math.Inf(1)
	for _, f := range features {
		for _, r := range refs {
			if d := utils.EuclideanDistance(f, r); d < best {
				best = d
			}
		}
	}
	return best, true
}

// RankBySimilarity scores every item by best-match cosine similarity against
// refs, sorts descending (stable, so equal scores keep enumeration order),
// applies the threshold policy, and truncates to limit. limit <= 0 means
// unbounded.
func RankBySimilarity(items []Item, refs [][]float32, limit int, th Threshold) []Match {
	scored := make([]Match, 0, len(items))
	for _, it := range items {
		s, ok := BestSimilarity(it.Features, refs)
		if !ok {
			continue
		}
		scored = append(scored, Match{ID: it.ID, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	cutoff := math.Inf(-1)
	switch th.Mode {
	case ThresholdAbsolute:
		cutoff = th.Value
	case ThresholdRelative:
		if len(scored) > 0 && scored[0].Score > 0 {
			cutoff = scored[0].Score * (th.Value / 100)
		} else {
			// Non-positive top score: relative scaling is meaningless, so
			// only drop negative scores.
			cutoff = 0
		}
	}
	return takeAbove(scored, cutoff, limit)
}

// RankByDistance scores every item by best-match euclidean distance against
// refs, keeps items within maxDistance, sorts by distance ascending (stable),
// and truncates to limit. Scores are exposed as 1 - distance.
func RankByDistance(items []Item, refs [][]float32, limit int, maxDistance float64) []Match {
	type scoredItem struct {
		id       string
		distance float64
	}
	scored := make([]scoredItem, 0, len(items))
	for _, it := range items {
		d, ok := BestDistance(it.Features, refs)
		if !ok || d > maxDistance {
			continue
		}
		scored = append(scored, scoredItem{id: it.ID, distance: d})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].distance < scored[j].distance })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]Match, len(scored))
	for i, s := range scored {
		out[i] = Match{ID: s.id, Score: 1 - s.distance}
	}
	return out
}

// takeAbove collects up to limit matches with Score >= cutoff from the
// already-sorted slice. Scores are non-increasing, so the first miss ends the
// scan.
func takeAbove(sorted []Match, cutoff float64, limit int) []Match {
	out := make([]Match, 0, len(sorted))
	for _, m := range sorted {
		if m.Score < cutoff {
			break
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
