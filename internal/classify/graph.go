package classify

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// affinityGraph is a symmetric kNN graph over standardized feature vectors
// with RBF edge weights exp(-gamma * d^2).
type affinityGraph struct {
	n         int
	neighbors [][]int32
	weights   [][]float64
	degree    []float64
}

// buildAffinityGraph connects every segment to its k nearest neighbors in
// feature space and symmetrizes the result. k is capped at n-1.
func buildAffinityGraph(features [][]float64, k int, gamma float64) *affinityGraph {
	n := len(features)
	if k > n-1 {
		k = n - 1
	}

	type edge struct {
		to int32
		w  float64
	}
	adj := make([]map[int32]float64, n)
	for i := range adj {
		adj[i] = make(map[int32]float64, k*2)
	}

	dists := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dists[j] = sqDistance(features[i], features[j])
			order[j] = j
		}
		sort.Slice(order, func(a, b int) bool {
			if dists[order[a]] != dists[order[b]] {
				return dists[order[a]] < dists[order[b]]
			}
			return order[a] < order[b]
		})

		taken := 0
		for _, j := range order {
			if j == i {
				continue
			}
			w := rbfWeight(gamma, dists[j])
			adj[i][int32(j)] = w
			adj[j][int32(i)] = w
			taken++
			if taken == k {
				break
			}
		}
	}

	g := &affinityGraph{
		n:         n,
		neighbors: make([][]int32, n),
		weights:   make([][]float64, n),
		degree:    make([]float64, n),
	}
	for i := range adj {
		nbrs := make([]int32, 0, len(adj[i]))
		for j := range adj[i] {
			nbrs = append(nbrs, j)
		}
		sort.Slice(nbrs, func(a, b int) bool { return nbrs[a] < nbrs[b] })
		ws := make([]float64, len(nbrs))
		for idx, j := range nbrs {
			ws[idx] = adj[i][j]
			g.degree[i] += adj[i][j]
		}
		g.neighbors[i] = nbrs
		g.weights[i] = ws
	}
	return g
}

// rbfWeight is the RBF kernel applied to a squared distance.
func rbfWeight(gamma, sqDist float64) float64 {
	return math.Exp(-gamma * sqDist)
}

func sqDistance(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

// diffuse runs graph-based label propagation until convergence. For
// graph-clamped the manually labeled rows are reset to their one-hot class
// every iteration; for graph-spreading they are softly re-estimated, keeping
// 1-alpha of the original label mass.
func (e *Engine) diffuse(ctx context.Context, method Method, features [][]float64, labeledRows map[int]int, numClasses int) ([][]float64, int, error) {
	p := e.params.ApplyDefaults(len(features[0]))
	g := buildAffinityGraph(features, p.Neighbors, p.Gamma)
	n := g.n

	// Y holds the clamp targets: one-hot rows for labeled segments, zero
	// elsewhere. F is the evolving label matrix.
	y := mat.NewDense(n, numClasses, nil)
	f := mat.NewDense(n, numClasses, nil)
	for row, class := range labeledRows {
		y.Set(row, class, 1)
		f.Set(row, class, 1)
	}

	next := mat.NewDense(n, numClasses, nil)
	agg := make([]float64, numClasses)

	iterations := 0
	for iter := 0; iter < p.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, iterations, fmt.Errorf("propagation cancelled: %w", err)
		}
		iterations = iter + 1

		for i := 0; i < n; i++ {
			for c := range agg {
				agg[c] = 0
			}
			switch method {
			case MethodGraphClamped:
				for idx, j := range g.neighbors[i] {
					w := g.weights[i][idx]
					for c := 0; c < numClasses; c++ {
						agg[c] += w * f.At(int(j), c)
					}
				}
				if g.degree[i] > 0 {
					floats.Scale(1/g.degree[i], agg)
				}
				if class, ok := labeledRows[i]; ok {
					for c := range agg {
						agg[c] = 0
					}
					agg[class] = 1
				}
			case MethodGraphSpreading:
				di := g.degree[i]
				for idx, j := range g.neighbors[i] {
					dj := g.degree[j]
					if di <= 0 || dj <= 0 {
						continue
					}
					w := g.weights[i][idx] / math.Sqrt(di*dj)
					for c := 0; c < numClasses; c++ {
						agg[c] += w * f.At(int(j), c)
					}
				}
				for c := 0; c < numClasses; c++ {
					agg[c] = p.Alpha*agg[c] + (1-p.Alpha)*y.At(i, c)
				}
			}
			next.SetRow(i, agg)
		}

		delta := 0.0
		for i := 0; i < n; i++ {
			for c := 0; c < numClasses; c++ {
				if d := math.Abs(next.At(i, c) - f.At(i, c)); d > delta {
					delta = d
				}
			}
		}
		f, next = next, f
		if delta < p.Tolerance {
			break
		}
	}

	probs := make([][]float64, n)
	for i := 0; i < n; i++ {
		probs[i] = mat.Row(nil, i, f)
	}
	return probs, iterations, nil
}
