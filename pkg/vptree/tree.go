// Package vptree implements the vantage-point tree: a binary
// space-partitioning index over an arbitrary metric, supporting
// k-nearest-neighbor and 1-nearest-neighbor batch queries. Construction is
// an iterative median-split build; search is depth-first with a dynamic
// radius (tau) used to prune subtrees via the triangle inequality.
package vptree

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/batch"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/kernel"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/observability"
)

// Tree is a vantage-point tree over vectors of element type E (float32,
// float64, or byte) using a metric returning a value of type D.
type Tree[E any, D distance] struct {
	mu sync.RWMutex

	examples [][]E
	indices  []int64
	nodes    []node
	root     int32
	dim      int

	dist       func(a, b []E) D
	driver     *batch.Driver
	metricName string

	logger  *observability.QueryLogger
	metrics *observability.Metrics
}

// QueryResult packages one query's kNN hits: parallel index/distance
// arrays in heap-pop order, largest distance at position 0. Callers that
// need ascending distances must sort.
type QueryResult[D distance] struct {
	Indices   []int64
	Distances []D
}

func newTree[E any, D distance](metricName string, dist func(a, b []E) D) *Tree[E, D] {
	return &Tree[E, D]{
		root:       noChild,
		dist:       dist,
		driver:     batch.New(),
		metricName: metricName,
	}
}

// NewL2 builds an empty tree using Euclidean distance over float32 vectors.
func NewL2() *Tree[float32, float32] { return newTree[float32, float32]("l2", kernel.L2) }

// NewL1 builds an empty tree using Manhattan distance over float32 vectors.
func NewL1() *Tree[float32, float32] { return newTree[float32, float32]("l1", kernel.L1) }

// NewChebyshev builds an empty tree using L-infinity distance over float32
// vectors.
func NewChebyshev() *Tree[float32, float32] {
	return newTree[float32, float32]("chebyshev", kernel.Chebyshev)
}

// NewL2D builds an empty tree using Euclidean distance over float64
// vectors.
func NewL2D() *Tree[float64, float64] { return newTree[float64, float64]("l2d", kernel.L2D) }

// NewHamming64 builds an empty tree over 64-bit (8-byte) packed bit
// vectors.
func NewHamming64() *Tree[byte, int64] { return newTree[byte, int64]("hamming64", kernel.Hamming64) }

// NewHamming128 builds an empty tree over 128-bit (16-byte) packed bit
// vectors.
func NewHamming128() *Tree[byte, int64] {
	return newTree[byte, int64]("hamming128", kernel.Hamming128)
}

// NewHamming256 builds an empty tree over 256-bit (32-byte) packed bit
// vectors.
func NewHamming256() *Tree[byte, int64] {
	return newTree[byte, int64]("hamming256", kernel.Hamming256)
}

// NewHamming512 builds an empty tree over 512-bit (64-byte) packed bit
// vectors.
func NewHamming512() *Tree[byte, int64] {
	return newTree[byte, int64]("hamming512", kernel.Hamming512)
}

// NewHammingN builds an empty tree over arbitrary nbits-wide (nbits%8==0)
// packed bit vectors, using the specialized kernel when nbits is one of
// {64,128,256,512} and the generic word-loop fallback otherwise.
func NewHammingN(nbits int) *Tree[byte, int64] {
	return newTree[byte, int64](fmt.Sprintf("hamming%d", nbits), kernel.HammingN(nbits))
}

// WithWorkers overrides the batch driver's worker pool size.
func (t *Tree[E, D]) WithWorkers(n int) *Tree[E, D] {
	t.driver.Workers = n
	return t
}

// WithLogger attaches a query logger; build/search/serialize milestones are
// logged through it. A nil logger (the default) disables logging.
func (t *Tree[E, D]) WithLogger(logger *observability.QueryLogger) *Tree[E, D] {
	t.logger = logger
	return t
}

// WithMetrics attaches a Prometheus metrics recorder to the tree and its
// batch driver. A nil recorder (the default) disables metrics.
func (t *Tree[E, D]) WithMetrics(metrics *observability.Metrics) *Tree[E, D] {
	t.metrics = metrics
	t.driver.Metrics = metrics
	return t
}

// WithRateLimit throttles dispatch of batch query tasks through limiter. A
// nil limiter (the default) disables throttling.
func (t *Tree[E, D]) WithRateLimit(limiter *rate.Limiter) *Tree[E, D] {
	t.driver.Limiter = limiter
	return t
}

// IsEmpty reports whether the tree holds no examples.
func (t *Tree[E, D]) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root == noChild
}

// Clear drops the tree and its examples, returning it to the empty state.
func (t *Tree[E, D]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.examples = nil
	t.indices = nil
	t.nodes = nil
	t.root = noChild
	t.dim = 0
}

// Height returns the height of the partition tree, zero when empty. O(tree).
func (t *Tree[E, D]) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == noChild {
		return 0
	}
	return nodeHeight(t.nodes, t.root)
}

// NumNodes returns the number of partitions in the tree, zero when empty.
// O(tree).
func (t *Tree[E, D]) NumNodes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == noChild {
		return 0
	}
	return nodeCount(t.nodes, t.root)
}

// String renders a short debug summary.
func (t *Tree[E, D]) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == noChild {
		return "vptree.Tree{empty}"
	}
	return fmt.Sprintf("vptree.Tree{n=%d, dim=%d, nodes=%d}", len(t.examples), t.dim, len(t.nodes))
}

// Set replaces the tree's contents and rebuilds it from batch, using seed to
// drive vantage-point selection deterministically: the same batch and seed
// always produce bit-identical serialized output. Set is atomic:
// on a dimension mismatch the previous contents are left untouched.
func (t *Tree[E, D]) Set(batchInput [][]E, seed int64) error {
	start := time.Now()
	if len(batchInput) == 0 {
		t.Clear()
		return nil
	}
	dim := len(batchInput[0])
	examples := make([][]E, len(batchInput))
	for i, v := range batchInput {
		if len(v) != dim {
			err := nnerrors.New(nnerrors.DimensionMismatch, "batch contains vectors of differing length")
			if t.metrics != nil {
				t.metrics.RecordBuildError("vptree", nnerrors.DimensionMismatch.String())
			}
			if t.logger != nil {
				t.logger.LogQueryError("vptree", "build", err)
			}
			return err
		}
		cp := make([]E, len(v))
		copy(cp, v)
		examples[i] = cp
	}

	indices := make([]int64, len(examples))
	for i := range indices {
		indices[i] = int64(i)
	}

	rng := rand.New(rand.NewSource(seed))
	nodes := make([]node, 0, len(examples))

	type task struct {
		start, end int64
		parent     int32
		isLeft     bool
	}
	stack := []task{{start: 0, end: int64(len(examples) - 1), parent: -1}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx := int32(len(nodes))
		nodes = append(nodes, node{start: cur.start, end: cur.end, left: noChild, right: noChild})
		if cur.parent != -1 {
			if cur.isLeft {
				nodes[cur.parent].left = idx
			} else {
				nodes[cur.parent].right = idx
			}
		}

		if cur.start == cur.end {
			continue
		}

		span := int(cur.end - cur.start + 1)
		vp := int(cur.start) + rng.Intn(span)
		indices[vp], indices[cur.start] = indices[cur.start], indices[vp]

		m := (cur.start + cur.end) / 2
		vantage := examples[indices[cur.start]]
		lo, hi := int(cur.start+1), int(cur.end)
		if lo <= hi {
			quickselect(indices, examples, t.dist, vantage, lo, hi, int(m))
		}
		nodes[idx].radius = toFloat64(t.dist(vantage, examples[indices[m]]))

		if cur.start+1 <= m {
			stack = append(stack, task{start: cur.start + 1, end: m, parent: idx, isLeft: true})
		}
		if m+1 <= cur.end {
			stack = append(stack, task{start: m + 1, end: cur.end, parent: idx, isLeft: false})
		}
	}

	t.mu.Lock()
	t.examples = examples
	t.indices = indices
	t.nodes = nodes
	t.root = 0
	t.dim = dim
	t.mu.Unlock()

	duration := time.Since(start)
	if t.metrics != nil {
		t.metrics.RecordBuild("vptree", t.metricName, duration)
		t.metrics.UpdateTreeShape("vptree", len(examples), nodeHeight(nodes, 0))
	}
	if t.logger != nil {
		t.logger.LogQuery("vptree", "build", "ok", duration, map[string]interface{}{
			"metric": t.metricName,
			"size":   len(examples),
			"seed":   seed,
		})
	}
	return nil
}

func (t *Tree[E, D]) checkQueries(queries [][]E) error {
	if t.root == noChild {
		return nnerrors.New(nnerrors.NotInitialized, "search on empty vptree")
	}
	for _, q := range queries {
		if len(q) != t.dim {
			return nnerrors.New(nnerrors.DimensionMismatch, "query vector length does not match index dimension")
		}
	}
	return nil
}

// Search1NN returns, for each query, the index and distance of its nearest
// stored example. The two returned slices are positionally aligned with
// queries.
func (t *Tree[E, D]) Search1NN(queries [][]E) ([]int64, []D, error) {
	start := time.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkQueries(queries); err != nil {
		if t.metrics != nil {
			t.metrics.RecordSearchError("vptree", nnerrors.KindString(err))
		}
		if t.logger != nil {
			t.logger.LogQueryError("vptree", "1nn", err)
		}
		return nil, nil, err
	}

	type hit struct {
		idx  int64
		dist D
	}
	hits, err := batch.Run(t.driver, queries, func(q []E) (hit, error) {
		idx, d := t.search1NNOne(q)
		return hit{idx, d}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	t.recordSearch("1nn", start, len(queries))

	idxs := make([]int64, len(hits))
	dists := make([]D, len(hits))
	for i, h := range hits {
		idxs[i] = h.idx
		dists[i] = h.dist
	}
	return idxs, dists, nil
}

// SearchKNN returns, for each query, the min(k, N) nearest stored examples.
func (t *Tree[E, D]) SearchKNN(queries [][]E, k int) ([]QueryResult[D], error) {
	start := time.Now()
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkQueries(queries); err != nil {
		if t.metrics != nil {
			t.metrics.RecordSearchError("vptree", nnerrors.KindString(err))
		}
		if t.logger != nil {
			t.logger.LogQueryError("vptree", "knn", err)
		}
		return nil, err
	}
	if k <= 0 {
		empty := make([]QueryResult[D], len(queries))
		return empty, nil
	}

	results, err := batch.Run(t.driver, queries, func(q []E) (QueryResult[D], error) {
		idxs, dists := t.searchKNNOne(q, k)
		return QueryResult[D]{Indices: idxs, Distances: dists}, nil
	})
	if err != nil {
		return nil, err
	}
	t.recordSearch("knn", start, len(queries))
	return results, nil
}

// recordSearch logs and records metrics for a completed batch search,
// nil-safe when no logger/metrics were attached.
func (t *Tree[E, D]) recordSearch(op string, start time.Time, numQueries int) {
	duration := time.Since(start)
	if t.metrics != nil {
		t.metrics.RecordSearch("vptree", op, duration, numQueries)
	}
	if t.logger != nil {
		t.logger.LogQuery("vptree", op, "ok", duration, map[string]interface{}{
			"queries": numQueries,
		})
	}
}

type searchFrame struct {
	node      int32
	border    float64
	hasBorder bool
}

// search1NNOne is the single-query 1NN depth-first descent: visit the
// vantage point, recurse into the near child first, and descend into the
// far child only while its border distance could still beat the best hit.
func (t *Tree[E, D]) search1NNOne(query []E) (int64, D) {
	bestDist := math.Inf(1)
	var bestDistD D
	bestIdx := int64(-1)

	stack := []searchFrame{{node: t.root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node == noChild {
			continue
		}
		if f.hasBorder && f.border > bestDist {
			continue
		}

		n := t.nodes[f.node]
		vantage := t.examples[t.indices[n.start]]
		d := t.dist(query, vantage)
		df := toFloat64(d)
		if df < bestDist {
			bestDist = df
			bestDistD = d
			bestIdx = t.indices[n.start]
		}

		near, far := n.left, n.right
		outside := df > n.radius
		if outside {
			near, far = n.right, n.left
		}
		var borderVal float64
		if outside {
			borderVal = df - n.radius
		} else {
			borderVal = n.radius - df
		}

		if far != noChild && borderVal < bestDist {
			stack = append(stack, searchFrame{node: far, border: borderVal, hasBorder: true})
		}
		if near != noChild {
			stack = append(stack, searchFrame{node: near})
		}
	}
	return bestIdx, bestDistD
}

// searchKNNOne is the single-query kNN descent. tau is the worst distance
// still held by a full heap; a far child is pruned once its border exceeds
// tau, unless the near subtree alone cannot fill the heap to k.
func (t *Tree[E, D]) searchKNNOne(query []E, k int) ([]int64, []D) {
	h := &maxHeap[D]{}
	tau := math.Inf(1)

	stack := []searchFrame{{node: t.root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node == noChild {
			continue
		}
		if f.hasBorder && f.border > tau {
			continue
		}

		n := t.nodes[f.node]
		vantage := t.examples[t.indices[n.start]]
		d := t.dist(query, vantage)
		df := toFloat64(d)

		if df < tau || h.Len() < k {
			heap.Push(h, heapItem[D]{idx: t.indices[n.start], dist: d})
			if h.Len() > k {
				heap.Pop(h)
			}
			if h.Len() == k {
				tau = toFloat64(h.Peek().dist)
			} else {
				tau = math.Inf(1)
			}
		}

		near, far := n.left, n.right
		outside := df > n.radius
		if outside {
			near, far = n.right, n.left
		}
		var borderVal float64
		if outside {
			borderVal = df - n.radius
		} else {
			borderVal = n.radius - df
		}

		nearSize := int64(0)
		if near != noChild {
			nearSize = t.nodes[near].size()
		}
		notEnough := nearSize < int64(k-h.Len())

		if far != noChild {
			if notEnough {
				stack = append(stack, searchFrame{node: far})
			} else if borderVal <= tau {
				stack = append(stack, searchFrame{node: far, border: borderVal, hasBorder: true})
			}
		}
		if near != noChild {
			stack = append(stack, searchFrame{node: near})
		}
	}

	n := h.Len()
	idxs := make([]int64, n)
	dists := make([]D, n)
	for i := 0; i < n; i++ {
		item := heap.Pop(h).(heapItem[D])
		idxs[i] = item.idx
		dists[i] = item.dist
	}
	return idxs, dists
}
