package classify

import (
	"math"
	"sort"
)

// probEpsilon is the cutoff below which a class probability is treated as
// absent. Distributions coming out of the propagation estimators are close
// to but not exactly normalized, and log(p) blows up for near-zero mass.
const probEpsilon = 1e-12

// Entropy computes the Shannon entropy of a class-probability distribution,
// normalized by log of the distribution's class count so the result lies in
// [0,1] and hits 1 only when the mass is uniform over every class. A
// distribution over a single class has entropy 0 by definition. Near-zero
// terms are dropped from the sum but still count toward the normalizer: a
// segment torn between two of three classes is less uncertain than one torn
// between all three.
func Entropy(distribution map[string]float64) float64 {
	if len(distribution) <= 1 {
		return 0
	}
	total := 0.0
	for _, p := range distribution {
		if p > probEpsilon {
			total += p
		}
	}
	if total <= 0 {
		return 0
	}

	h := 0.0
	for _, p := range distribution {
		if p <= probEpsilon {
			continue
		}
		q := p / total
		h -= q * math.Log(q)
	}

	h /= math.Log(float64(len(distribution)))
	// Clamp floating residue so callers can rely on the [0,1] contract.
	if h < 0 {
		return 0
	}
	if h > 1 {
		return 1
	}
	return h
}

// RankedSegment pairs a segment id with its prediction entropy.
type RankedSegment struct {
	SegmentID int64   `json:"segment_id"`
	Entropy   float64 `json:"entropy"`
}

// Rank orders segments by descending entropy, ties broken by ascending
// segment id so output is deterministic. When excludeManual is true, segments
// carrying a manual label are skipped: the analyst has already answered those.
func Rank(predictions map[int64]Prediction, labels *LabelStore, excludeManual bool) []RankedSegment {
	out := make([]RankedSegment, 0, len(predictions))
	for id, p := range predictions {
		if excludeManual && labels != nil {
			if _, ok := labels.Manual(id); ok {
				continue
			}
		}
		out = append(out, RankedSegment{SegmentID: id, Entropy: p.Uncertainty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entropy != out[j].Entropy {
			return out[i].Entropy > out[j].Entropy
		}
		return out[i].SegmentID < out[j].SegmentID
	})
	return out
}

// Select returns the segment ids whose entropy meets the threshold, truncated
// to topK, preserving Rank order. These are the segments flagged for the next
// manual round. topK <= 0 means no truncation.
func Select(ranked []RankedSegment, threshold float64, topK int) []int64 {
	var ids []int64
	for _, r := range ranked {
		if r.Entropy < threshold {
			break
		}
		ids = append(ids, r.SegmentID)
		if topK > 0 && len(ids) == topK {
			break
		}
	}
	return ids
}
