package classify

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Method selects the semi-supervised propagation strategy. The set is closed:
// strategies share one contract and differ only in how labels diffuse through
// the unlabeled population and how confidently they commit.
type Method string

const (
	// MethodGraphClamped diffuses labels over the affinity graph while hard
	// clamping known labels to their manual class every iteration.
	MethodGraphClamped Method = "graph-clamped"
	// MethodGraphSpreading diffuses labels with soft re-estimation: known
	// labels keep most of their initial mass but may drift.
	MethodGraphSpreading Method = "graph-spreading"
	// MethodSelfTraining grows the labeled set round by round from
	// high-confidence nearest-neighbor predictions.
	MethodSelfTraining Method = "self-training"
)

// ParseMethod resolves a method name from the API. The legacy names used by
// the web client map onto the graph strategies.
func ParseMethod(name string) (Method, error) {
	switch Method(NormalizeClassName(name)) {
	case MethodGraphClamped, "label_propagation":
		return MethodGraphClamped, nil
	case MethodGraphSpreading, "label_spreading":
		return MethodGraphSpreading, nil
	case MethodSelfTraining, "self_training":
		return MethodSelfTraining, nil
	case "":
		// Historical default when the client omits the method.
		return MethodGraphSpreading, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// Params are the numeric knobs of the propagation strategies. Zero values are
// replaced by defaults in ApplyDefaults.
type Params struct {
	// Neighbors is k for the kNN affinity graph.
	Neighbors int `json:"neighbors,omitempty"`
	// Gamma scales the RBF edge weights exp(-gamma * d^2) on standardized
	// features. Zero means 2/dim.
	Gamma float64 `json:"gamma,omitempty"`
	// Alpha is the soft-clamping factor for graph-spreading: the fraction of
	// diffused mass kept against the original labels each iteration.
	Alpha float64 `json:"alpha,omitempty"`
	// MaxIterations bounds the diffusion loop.
	MaxIterations int `json:"max_iterations,omitempty"`
	// Tolerance is the convergence threshold on the label matrix delta.
	Tolerance float64 `json:"tolerance,omitempty"`
	// ConfidenceThreshold is the minimum confidence for self-training to
	// promote a prediction into the labeled set.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	// MaxRounds bounds self-training expansion rounds.
	MaxRounds int `json:"max_rounds,omitempty"`
}

// ApplyDefaults fills unset fields with the engine defaults.
func (p Params) ApplyDefaults(featureDim int) Params {
	if p.Neighbors <= 0 {
		p.Neighbors = 7
	}
	if p.Gamma <= 0 {
		if featureDim > 0 {
			p.Gamma = 2 / float64(featureDim)
		} else {
			p.Gamma = 0.25
		}
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		p.Alpha = 0.2
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 1000
	}
	if p.Tolerance <= 0 {
		p.Tolerance = 1e-6
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		p.ConfidenceThreshold = 0.8
	}
	if p.MaxRounds <= 0 {
		p.MaxRounds = 10
	}
	return p
}

// Result is the output of one propagation pass over the full segment
// population.
type Result struct {
	Method      Method               `json:"method"`
	Predictions map[int64]Prediction `json:"predictions"`
	// TrainingConsistency is the fraction of originally labeled segments
	// whose recomputed prediction matches their manual label. It is a sanity
	// metric, not held-out accuracy.
	TrainingConsistency float64  `json:"training_consistency"`
	Iterations          int      `json:"iterations"`
	Classes             []string `json:"classes"`
	LabeledCount        int      `json:"labeled_count"`
	TotalCount          int      `json:"total_count"`
}

// Engine runs semi-supervised label propagation over a feature table.
type Engine struct {
	params Params
}

// NewEngine creates an engine with the given tuning parameters.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// Propagate produces a predicted class and probability distribution for every
// segment in the table, including the manually labeled ones. The labeled
// subset must cover at least two distinct classes and reference only segments
// present in the table. The context cancels long diffusion loops.
func (e *Engine) Propagate(ctx context.Context, method Method, table *FeatureTable, labeled []ManualLabel) (*Result, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("%w: empty feature table", ErrFeatureDimension)
	}

	classes, labeledRows, err := encodeLabels(table, labeled)
	if err != nil {
		return nil, err
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientLabels, len(classes))
	}

	features := standardize(table)

	var probs [][]float64
	var iterations int
	switch method {
	case MethodGraphClamped, MethodGraphSpreading:
		probs, iterations, err = e.diffuse(ctx, method, features, labeledRows, len(classes))
	case MethodSelfTraining:
		probs, iterations, err = e.selfTrain(ctx, features, labeledRows, len(classes))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Method:       method,
		Predictions:  make(map[int64]Prediction, table.Len()),
		Iterations:   iterations,
		Classes:      classes,
		LabeledCount: len(labeledRows),
		TotalCount:   table.Len(),
	}

	consistent := 0
	for i := 0; i < table.Len(); i++ {
		dist := normalizeRow(probs[i], classes)
		label := argmaxClass(dist, classes)
		id := table.idAt(i)
		res.Predictions[id] = Prediction{
			SegmentID:     id,
			Label:         label,
			Probabilities: dist,
			Uncertainty:   Entropy(dist),
		}
		if want, ok := labeledRows[i]; ok && classes[want] == label {
			consistent++
		}
	}
	if len(labeledRows) > 0 {
		res.TrainingConsistency = float64(consistent) / float64(len(labeledRows))
	}

	return res, nil
}

// encodeLabels maps the labeled subset onto row indices and a sorted class
// list. Returns the classes and a row index -> class index map.
func encodeLabels(table *FeatureTable, labeled []ManualLabel) ([]string, map[int]int, error) {
	seen := make(map[string]struct{})
	for _, l := range labeled {
		seen[NormalizeClassName(l.Class)] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	labeledRows := make(map[int]int, len(labeled))
	for _, l := range labeled {
		row, ok := table.position(l.SegmentID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: labeled segment %d is not in the feature table", ErrSegmentNotFound, l.SegmentID)
		}
		labeledRows[row] = classIndex[NormalizeClassName(l.Class)]
	}
	return classes, labeledRows, nil
}

// standardize z-scores each feature column. Constant columns are zeroed so
// they carry no distance information.
func standardize(table *FeatureTable) [][]float64 {
	n, dim := table.Len(), table.Dim()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dim)
	}

	col := make([]float64, n)
	for j := 0; j < dim; j++ {
		for i := 0; i < n; i++ {
			col[i] = table.rowAt(i)[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		for i := 0; i < n; i++ {
			out[i][j] = (col[i] - mean) / std
		}
	}
	return out
}

// normalizeRow turns raw per-class mass into a valid distribution keyed by
// class name. A degenerate row (all mass below epsilon, or non-finite values)
// falls back to the uniform distribution: maximally uncertain rather than
// failing the batch.
func normalizeRow(row []float64, classes []string) map[string]float64 {
	total := 0.0
	degenerate := false
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			degenerate = true
			break
		}
		total += v
	}
	dist := make(map[string]float64, len(classes))
	if degenerate || total <= probEpsilon {
		u := 1 / float64(len(classes))
		for _, c := range classes {
			dist[c] = u
		}
		return dist
	}
	for i, c := range classes {
		dist[c] = row[i] / total
	}
	return dist
}

// argmaxClass picks the committed class: highest probability, ties broken by
// class name order so the result is deterministic.
func argmaxClass(dist map[string]float64, classes []string) string {
	best := classes[0]
	bestP := dist[best]
	for _, c := range classes[1:] {
		if dist[c] > bestP {
			best, bestP = c, dist[c]
		}
	}
	return best
}
