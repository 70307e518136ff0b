package forecast

import (
	"math/rand/v2"
	"sort"
)

// regressionTree is a fully grown CART tree over a single numeric feature.
// Splits minimise the summed squared error of the two children; leaves predict
// the mean of their targets.
type regressionTree struct {
	root *treeNode
}

type treeNode struct {
	threshold   float64
	value       float64
	left, right *treeNode
}

func (n *treeNode) leaf() bool {
	return n.left == nil
}

type sample struct {
	x, y float64
}

// fitTree grows a tree on samples. samples is reordered in place.
func fitTree(samples []sample) *regressionTree {
	return &regressionTree{root: grow(samples)}
}

func (t *regressionTree) predict(x float64) float64 {
	n := t.root
	for !n.leaf() {
		if x <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func grow(samples []sample) *treeNode {
	mean := meanY(samples)
	if len(samples) < 2 || pure(samples) {
		return &treeNode{value: mean}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].x < samples[j].x })

	// Prefix sums let each candidate split be scored in O(1).
	n := len(samples)
	sum := make([]float64, n+1)
	sumSq := make([]float64, n+1)
	for i, s := range samples {
		sum[i+1] = sum[i] + s.y
		sumSq[i+1] = sumSq[i] + s.y*s.y
	}
	sse := func(lo, hi int) float64 {
		cnt := float64(hi - lo)
		s := sum[hi] - sum[lo]
		return (sumSq[hi] - sumSq[lo]) - s*s/cnt
	}

	best := -1
	bestErr := sse(0, n)
	for i := 1; i < n; i++ {
		if samples[i].x == samples[i-1].x {
			continue
		}
		if e := sse(0, i) + sse(i, n); e < bestErr {
			bestErr = e
			best = i
		}
	}
	if best < 0 {
		return &treeNode{value: mean}
	}

	return &treeNode{
		threshold: (samples[best-1].x + samples[best].x) / 2,
		value:     mean,
		left:      grow(samples[:best]),
		right:     grow(samples[best:]),
	}
}

func meanY(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var s float64
	for _, v := range samples {
		s += v.y
	}
	return s / float64(len(samples))
}

func pure(samples []sample) bool {
	for _, s := range samples[1:] {
		if s.y != samples[0].y {
			return false
		}
	}
	return true
}

// ensemble is a bagged forest: every member is fitted on a bootstrap resample
// of the training set.
type ensemble struct {
	members []*regressionTree
}

func fitEnsemble(xs, ys []float64, size int, rng *rand.Rand) *ensemble {
	n := len(xs)
	e := &ensemble{members: make([]*regressionTree, 0, size)}
	buf := make([]sample, n)
	for m := 0; m < size; m++ {
		for i := range buf {
			j := rng.IntN(n)
			buf[i] = sample{x: xs[j], y: ys[j]}
		}
		e.members = append(e.members, fitTree(buf))
	}
	return e
}

// memberPredictions returns one prediction per ensemble member.
func (e *ensemble) memberPredictions(x float64) []float64 {
	out := make([]float64, len(e.members))
	for i, t := range e.members {
		out[i] = t.predict(x)
	}
	return out
}
