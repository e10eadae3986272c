// Package bktree implements the Burkhard-Keller tree: a tree keyed on
// discrete distance values, supporting threshold (radius) queries pruned by
// the triangle inequality. Unlike vptree, a BK tree is mutable after
// construction: Add/Update extend it incrementally.
package bktree

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/batch"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/observability"
)

// Hit is one threshold-search result: the stored key, its distance to the
// query, and the monotonic index it was assigned at insertion.
type Hit[K any] struct {
	Key      K
	Distance int64
	Index    int64
}

// Tree is a Burkhard-Keller tree over keys of type K.
type Tree[K any] struct {
	mu        sync.RWMutex
	metric    Metric[K]
	root      *bkNode[K]
	size      int
	nextIndex int64
	indexed   bool
	driver    *batch.Driver

	logger  *observability.QueryLogger
	metrics *observability.Metrics
}

// New returns an empty non-indexed tree: Add rejects exact duplicates,
// leaving size unchanged.
func New[K any](metric Metric[K]) *Tree[K] {
	return &Tree[K]{metric: metric, driver: batch.New()}
}

// NewIndexed returns an empty indexed tree: Add never rejects a key, even
// an exact duplicate of one already stored. A duplicate descends through
// the zero-distance edge exactly like any other distance edge and attaches
// a new child, rather than collapsing into the existing node, so every
// insert gets its own monotonic index.
func NewIndexed[K any](metric Metric[K]) *Tree[K] {
	return &Tree[K]{metric: metric, indexed: true, driver: batch.New()}
}

// WithWorkers overrides the batch driver's worker pool size.
func (t *Tree[K]) WithWorkers(n int) *Tree[K] {
	t.driver.Workers = n
	return t
}

// WithLogger attaches a query logger; insert/search milestones are logged
// through it. A nil logger (the default) disables logging.
func (t *Tree[K]) WithLogger(logger *observability.QueryLogger) *Tree[K] {
	t.logger = logger
	return t
}

// WithMetrics attaches a Prometheus metrics recorder to the tree and its
// batch driver. A nil recorder (the default) disables metrics.
func (t *Tree[K]) WithMetrics(metrics *observability.Metrics) *Tree[K] {
	t.metrics = metrics
	t.driver.Metrics = metrics
	return t
}

// WithRateLimit throttles dispatch of batch query tasks through limiter. A
// nil limiter (the default) disables throttling.
func (t *Tree[K]) WithRateLimit(limiter *rate.Limiter) *Tree[K] {
	t.driver.Limiter = limiter
	return t
}

func (t *Tree[K]) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("bktree.Tree{size=%d, indexed=%v}", t.size, t.indexed)
}

// Size returns the number of stored keys.
func (t *Tree[K]) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Empty reports whether the tree holds no keys.
func (t *Tree[K]) Empty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root == nil
}

// Clear empties the tree.
func (t *Tree[K]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = nil
	t.size = 0
	t.nextIndex = 0
}

// Add inserts key and reports the index it was assigned and whether it was
// newly added. On a non-indexed tree, an exact duplicate (distance 0 to an
// already-stored key) is rejected: added is false and the existing key's
// index is returned. On an indexed tree, duplicates are always inserted.
func (t *Tree[K]) Add(key K) (index int64, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	index, added = t.addLocked(key)
	if t.metrics != nil {
		t.metrics.RecordBKInsert(!added)
		t.metrics.UpdateTreeShape("bktree", t.size, 0)
	}
	return index, added
}

func (t *Tree[K]) addLocked(key K) (int64, bool) {
	if t.root == nil {
		t.root = newBKNode(key, t.nextIndex)
		t.nextIndex++
		t.size++
		return t.root.index, true
	}

	node := t.root
	for {
		d := t.metric.Distance(node.key, key)
		if d == 0 && !t.indexed {
			return node.index, false
		}
		if child, ok := node.children[d]; ok {
			node = child
			continue
		}
		child := newBKNode(key, t.nextIndex)
		t.nextIndex++
		node.children[d] = child
		if d > node.maxChildDistance {
			node.maxChildDistance = d
		}
		t.size++
		return child.index, true
	}
}

// Update bulk-inserts keys and returns how many were newly added.
func (t *Tree[K]) Update(keys []K) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, k := range keys {
		if _, ok := t.addLocked(k); ok {
			added++
		}
	}
	return added
}

// Find returns every stored key within threshold of query, found by
// triangle-inequality pruning over candidate subtrees.
func (t *Tree[K]) Find(query K, threshold int64) ([]Hit[K], error) {
	start := time.Now()
	if threshold < 0 {
		err := nnerrors.New(nnerrors.InvalidThreshold, "threshold must be non-negative")
		if t.metrics != nil {
			t.metrics.RecordSearchError("bktree", nnerrors.InvalidThreshold.String())
		}
		if t.logger != nil {
			t.logger.LogQueryError("bktree", "threshold", err)
		}
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	hits := t.findLocked(query, threshold)
	t.recordSearch("threshold", start, len(hits))
	return hits, nil
}

// FindBatch runs Find over a batch of queries in parallel, one task per
// query, via the shared batch driver.
func (t *Tree[K]) FindBatch(queries []K, threshold int64) ([][]Hit[K], error) {
	start := time.Now()
	if threshold < 0 {
		err := nnerrors.New(nnerrors.InvalidThreshold, "threshold must be non-negative")
		if t.metrics != nil {
			t.metrics.RecordSearchError("bktree", nnerrors.InvalidThreshold.String())
		}
		if t.logger != nil {
			t.logger.LogQueryError("bktree", "threshold_batch", err)
		}
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	results, err := batch.Run(t.driver, queries, func(q K) ([]Hit[K], error) {
		return t.findLocked(q, threshold), nil
	})
	if err != nil {
		return nil, err
	}
	t.recordSearch("threshold_batch", start, len(queries))
	return results, nil
}

// recordSearch logs and records metrics for a completed search, nil-safe
// when no logger/metrics were attached.
func (t *Tree[K]) recordSearch(op string, start time.Time, resultSize int) {
	duration := time.Since(start)
	if t.metrics != nil {
		t.metrics.RecordSearch("bktree", op, duration, resultSize)
	}
	if t.logger != nil {
		t.logger.LogQuery("bktree", op, "ok", duration, map[string]interface{}{
			"results": resultSize,
		})
	}
}

func (t *Tree[K]) findLocked(query K, threshold int64) []Hit[K] {
	if t.root == nil {
		return nil
	}
	var hits []Hit[K]
	queue := []*bkNode[K]{t.root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		cutoff := node.maxChildDistance + threshold
		d, ok := thresholdDistance(t.metric, query, node.key, cutoff)
		if !ok {
			continue
		}
		if d <= threshold {
			hits = append(hits, Hit[K]{Key: node.key, Distance: d, Index: node.index})
		}

		lo, hi := d-threshold, d+threshold
		for edge, child := range node.children {
			if edge >= lo && edge <= hi {
				queue = append(queue, child)
			}
		}
	}
	return hits
}

func thresholdDistance[K any](m Metric[K], query, candidate K, cutoff int64) (int64, bool) {
	if tm, ok := m.(ThresholdMetric[K]); ok {
		return tm.ThresholdDistance(query, candidate, cutoff)
	}
	return m.Distance(query, candidate), true
}

// Values returns every stored key, visited in a deterministic pre-order
// (children visited in ascending edge-distance order).
func (t *Tree[K]) Values() []K {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []K
	if t.root == nil {
		return out
	}
	stack := []*bkNode[K]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n.key)

		edges := make([]int64, 0, len(n.children))
		for e := range n.children {
			edges = append(edges, e)
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i] > edges[j] })
		for _, e := range edges {
			stack = append(stack, n.children[e])
		}
	}
	return out
}
