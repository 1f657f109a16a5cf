package classify

import (
	"context"
	"fmt"
	"sort"
)

// selfTrain implements iterative self-training: a weighted nearest-neighbor
// vote over the currently labeled set predicts every unlabeled segment, and
// predictions confident enough are promoted into the labeled set for the next
// round. The loop stops when a round promotes nothing or MaxRounds is hit.
func (e *Engine) selfTrain(ctx context.Context, features [][]float64, labeledRows map[int]int, numClasses int) ([][]float64, int, error) {
	p := e.params.ApplyDefaults(len(features[0]))
	n := len(features)

	labeled := make(map[int]int, len(labeledRows))
	for row, class := range labeledRows {
		labeled[row] = class
	}

	rounds := 0
	for round := 0; round < p.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, rounds, fmt.Errorf("propagation cancelled: %w", err)
		}
		rounds = round + 1

		promoted := make(map[int]int)
		for i := 0; i < n; i++ {
			if _, ok := labeled[i]; ok {
				continue
			}
			dist := neighborVote(features, labeled, i, p.Neighbors, p.Gamma, numClasses)
			class, conf := maxVote(dist)
			if conf >= p.ConfidenceThreshold {
				promoted[i] = class
			}
		}
		if len(promoted) == 0 {
			break
		}
		for row, class := range promoted {
			labeled[row] = class
		}
	}

	// Final pass: originally labeled rows stay one-hot; everything else gets
	// the vote distribution against the final labeled set.
	probs := make([][]float64, n)
	for i := 0; i < n; i++ {
		if class, ok := labeledRows[i]; ok {
			row := make([]float64, numClasses)
			row[class] = 1
			probs[i] = row
			continue
		}
		probs[i] = neighborVote(features, labeled, i, p.Neighbors, p.Gamma, numClasses)
	}
	return probs, rounds, nil
}

// neighborVote returns per-class RBF-weighted mass from the k nearest labeled
// rows. The result is unnormalized; a row with no labeled neighbors stays
// zero and falls through to the uniform fallback downstream.
func neighborVote(features [][]float64, labeled map[int]int, i, k int, gamma float64, numClasses int) []float64 {
	type cand struct {
		row  int
		dist float64
	}
	cands := make([]cand, 0, len(labeled))
	for row := range labeled {
		if row == i {
			continue
		}
		cands = append(cands, cand{row: row, dist: sqDistance(features[i], features[row])})
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return cands[a].row < cands[b].row
	})
	if k < len(cands) {
		cands = cands[:k]
	}

	vote := make([]float64, numClasses)
	for _, c := range cands {
		vote[labeled[c.row]] += rbfWeight(gamma, c.dist)
	}
	return vote
}

// maxVote returns the winning class index and its share of the total vote.
func maxVote(vote []float64) (int, float64) {
	total := 0.0
	best := 0
	for c, v := range vote {
		total += v
		if v > vote[best] {
			best = c
		}
	}
	if total <= 0 {
		return best, 0
	}
	return best, vote[best] / total
}
