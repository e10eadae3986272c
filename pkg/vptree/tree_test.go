package vptree

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
	"github.com/therealutkarshpriyadarshi/nnindex/pkg/observability"
)

func TestEmptyIndexErrorsNotInitialized(t *testing.T) {
	tr := NewL2()
	_, _, err := tr.Search1NN([][]float32{{0, 0, 0}})
	if !errors.Is(err, nnerrors.ErrNotInitialized) {
		t.Fatalf("Search1NN on empty tree = %v, want NotInitialized", err)
	}
	if _, err := tr.SearchKNN([][]float32{{0, 0, 0}}, 1); !errors.Is(err, nnerrors.ErrNotInitialized) {
		t.Fatalf("SearchKNN on empty tree = %v, want NotInitialized", err)
	}
}

func TestDimensionMismatch(t *testing.T) {
	tr := NewL2()
	if err := tr.Set([][]float32{{1, 2, 3}, {4, 5, 6}}, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, _, err := tr.Search1NN([][]float32{{1, 2}}); !errors.Is(err, nnerrors.ErrDimensionMismatch) {
		t.Fatalf("Search1NN wrong-dim query = %v, want DimensionMismatch", err)
	}
}

// TestL1Top3Neighbors pins a top-3 L1 query over 8-dimensional floats to
// hand-computed indices and distances.
func TestL1Top3Neighbors(t *testing.T) {
	points := [][]float32{
		{0.247, 0.110, 0.044, 0.376, 0.777, 0.384, 0.279, 0.444},
		{0.409, 0.072, 0.765, 0.105, 0.481, 0.790, 0.933, 0.583},
		{0.346, 0.511, 0.695, 0.242, 0.143, 0.495, 0.820, 0.832},
		{0.409, 0.907, 0.048, 0.421, 0.988, 0.621, 0.291, 0.298},
		{0.732, 0.720, 0.160, 0.691, 0.825, 0.208, 0.903, 0.029},
	}
	query := [][]float32{{0.530, 0.686, 0.427, 0.695, 0.469, 0.098, 0.852, 0.258}}

	tr := NewL1()
	if err := tr.Set(points, 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	results, err := tr.SearchKNN(query, 3)
	if err != nil {
		t.Fatalf("SearchKNN: %v", err)
	}
	res := results[0]
	if len(res.Indices) != 3 {
		t.Fatalf("got %d results, want 3", len(res.Indices))
	}

	type pair struct {
		idx  int64
		dist float32
	}
	got := make([]pair, 3)
	for i := range res.Indices {
		got[i] = pair{res.Indices[i], res.Distances[i]}
	}
	sort.Slice(got, func(i, j int) bool { return got[i].dist < got[j].dist })

	wantIdx := []int64{4, 2, 3}
	wantDist := []float32{0.555, 0.967, 1.069}
	for i := range got {
		if got[i].idx != wantIdx[i] {
			t.Errorf("position %d: idx = %d, want %d", i, got[i].idx, wantIdx[i])
		}
		if math.Abs(float64(got[i].dist-wantDist[i])) > 1e-2 {
			t.Errorf("position %d: dist = %v, want ~%v", i, got[i].dist, wantDist[i])
		}
	}
}

func TestSearchKNNResultCardinality(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	points := randomPoints(rng, 50, 6)
	tr := NewL2()
	if err := tr.Set(points, 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for _, k := range []int{1, 5, 50, 100} {
		results, err := tr.SearchKNN(points[:3], k)
		if err != nil {
			t.Fatalf("SearchKNN k=%d: %v", k, err)
		}
		want := k
		if want > len(points) {
			want = len(points)
		}
		for i, r := range results {
			if len(r.Indices) != want {
				t.Errorf("k=%d query=%d: got %d results, want %d", k, i, len(r.Indices), want)
			}
		}
	}
}

func Test1NNMatchesKNN1(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	points := randomPoints(rng, 80, 4)
	queries := randomPoints(rng, 10, 4)

	tr := NewL2()
	if err := tr.Set(points, 11); err != nil {
		t.Fatalf("Set: %v", err)
	}

	idxs, dists, err := tr.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN: %v", err)
	}
	knn, err := tr.SearchKNN(queries, 1)
	if err != nil {
		t.Fatalf("SearchKNN: %v", err)
	}
	for i := range queries {
		if idxs[i] != knn[i].Indices[0] || dists[i] != knn[i].Distances[0] {
			t.Errorf("query %d: 1NN=(%d,%v) knn1=(%d,%v)", i, idxs[i], dists[i], knn[i].Indices[0], knn[i].Distances[0])
		}
	}
}

func TestKNNExactnessVsBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	points := randomPoints(rng, 120, 5)
	queries := randomPoints(rng, 6, 5)

	tr := NewL2()
	if err := tr.Set(points, 17); err != nil {
		t.Fatalf("Set: %v", err)
	}

	for _, k := range []int{1, 3, 10} {
		results, err := tr.SearchKNN(queries, k)
		if err != nil {
			t.Fatalf("SearchKNN: %v", err)
		}
		for qi, q := range queries {
			wantIdx := bruteForceL2(points, q, k)
			gotIdx := append([]int64{}, results[qi].Indices...)
			sort.Slice(gotIdx, func(i, j int) bool { return gotIdx[i] < gotIdx[j] })
			sort.Slice(wantIdx, func(i, j int) bool { return wantIdx[i] < wantIdx[j] })
			if len(gotIdx) != len(wantIdx) {
				t.Fatalf("k=%d query=%d: got %d indices, want %d", k, qi, len(gotIdx), len(wantIdx))
			}
			for i := range gotIdx {
				if gotIdx[i] != wantIdx[i] {
					t.Errorf("k=%d query=%d: got %v, want %v", k, qi, gotIdx, wantIdx)
					break
				}
			}
		}
	}
}

func bruteForceL2(points [][]float32, q []float32, k int) []int64 {
	type pair struct {
		idx  int64
		dist float64
	}
	all := make([]pair, len(points))
	for i, p := range points {
		var sum float64
		for d := range p {
			diff := float64(p[d] - q[d])
			sum += diff * diff
		}
		all[i] = pair{int64(i), math.Sqrt(sum)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if k > len(all) {
		k = len(all)
	}
	out := make([]int64, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].idx
	}
	return out
}

func TestSerializeRoundTripPreservesQueries(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	points := randomPoints(rng, 200, 3)
	queries := randomPoints(rng, 20, 3)

	tr := NewL2()
	if err := tr.Set(points, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob, checksum, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := Deserialize[float32, float32](tr.dist, blob, checksum)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	wantIdx, wantDist, err := tr.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN original: %v", err)
	}
	gotIdx, gotDist, err := restored.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN restored: %v", err)
	}
	for i := range queries {
		if wantIdx[i] != gotIdx[i] || wantDist[i] != gotDist[i] {
			t.Errorf("query %d: original=(%d,%v) restored=(%d,%v)", i, wantIdx[i], wantDist[i], gotIdx[i], gotDist[i])
		}
	}
}

// TestLargeSerializeRoundTrip builds an L2 index over 14001 random
// 3-vectors; a 100-query Search1NN batch must agree elementwise before and
// after a serialize/deserialize round trip.
func TestLargeSerializeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large round-trip scenario in -short mode")
	}
	rng := rand.New(rand.NewSource(14001))
	points := randomPoints(rng, 14001, 3)
	queries := randomPoints(rng, 100, 3)

	tr := NewL2()
	if err := tr.Set(points, 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	wantIdx, wantDist, err := tr.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN before round trip: %v", err)
	}

	blob, checksum, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	restored, err := Deserialize[float32, float32](tr.dist, blob, checksum)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	gotIdx, gotDist, err := restored.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN after round trip: %v", err)
	}

	for i := range queries {
		if wantIdx[i] != gotIdx[i] || wantDist[i] != gotDist[i] {
			t.Fatalf("query %d: before=(%d,%v) after=(%d,%v)", i, wantIdx[i], wantDist[i], gotIdx[i], gotDist[i])
		}
	}
}

func TestDeserializeInPlaceReplacesContents(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	points := randomPoints(rng, 60, 4)
	queries := randomPoints(rng, 5, 4)

	src := NewL2()
	if err := src.Set(points, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob, checksum, err := src.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	dst := NewL2()
	if err := dst.Set(randomPoints(rng, 10, 4), 1); err != nil {
		t.Fatalf("Set dst: %v", err)
	}
	if err := dst.Deserialize(blob, checksum); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	wantIdx, wantDist, err := src.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN src: %v", err)
	}
	gotIdx, gotDist, err := dst.Search1NN(queries)
	if err != nil {
		t.Fatalf("Search1NN dst: %v", err)
	}
	for i := range queries {
		if wantIdx[i] != gotIdx[i] || wantDist[i] != gotDist[i] {
			t.Errorf("query %d: src=(%d,%v) dst=(%d,%v)", i, wantIdx[i], wantDist[i], gotIdx[i], gotDist[i])
		}
	}
}

func TestDeserializeInPlaceIsAtomicOnCorruptBlob(t *testing.T) {
	points := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	tr := NewL2()
	if err := tr.Set(points, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob, checksum, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	blob[0] ^= 0xff

	if err := tr.Deserialize(blob, checksum); !errors.Is(err, nnerrors.ErrCorrupt) {
		t.Fatalf("Deserialize corrupted blob = %v, want Corrupt", err)
	}
	if tr.IsEmpty() {
		t.Fatal("expected previous contents to survive a failed Deserialize")
	}
	if _, _, err := tr.Search1NN([][]float32{{1, 2}}); err != nil {
		t.Fatalf("Search1NN after failed Deserialize: %v", err)
	}
}

func TestDeserializeRejectsCorruptedBlob(t *testing.T) {
	tr := NewL2()
	if err := tr.Set([][]float32{{1, 2}, {3, 4}, {5, 6}}, 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob, checksum, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	blob[0] ^= 0xff
	if _, err := Deserialize[float32, float32](tr.dist, blob, checksum); !errors.Is(err, nnerrors.ErrCorrupt) {
		t.Fatalf("Deserialize corrupted blob = %v, want Corrupt", err)
	}
}

func TestEmptyTreeSerializeRoundTrip(t *testing.T) {
	tr := NewL2()
	blob, checksum, err := tr.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(blob) != 0 {
		t.Fatalf("expected empty blob, got %d bytes", len(blob))
	}
	restored, err := Deserialize[float32, float32](tr.dist, blob, checksum)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !restored.IsEmpty() {
		t.Fatal("expected restored tree to be empty")
	}
}

// TestDeterminismBitIdenticalBlobs checks that two builds of the same data
// with the same seed produce bit-identical serialized blobs.
func TestDeterminismBitIdenticalBlobs(t *testing.T) {
	rng := rand.New(rand.NewSource(55))
	points := randomPoints(rng, 300, 4)

	t1 := NewL2()
	if err := t1.Set(points, 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	t2 := NewL2()
	if err := t2.Set(points, 42); err != nil {
		t.Fatalf("Set: %v", err)
	}

	b1, _, err := t1.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	b2, _, err := t2.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(b1) != len(b2) {
		t.Fatalf("blob lengths differ: %d vs %d", len(b1), len(b2))
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("blobs differ at byte %d", i)
		}
	}
}

func TestHeightAndNumNodes(t *testing.T) {
	tr := NewL2()
	if tr.Height() != 0 || tr.NumNodes() != 0 {
		t.Fatalf("empty tree: height=%d nodes=%d, want 0, 0", tr.Height(), tr.NumNodes())
	}

	points := randomPoints(rand.New(rand.NewSource(2)), 63, 3)
	if err := tr.Set(points, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Every point is the vantage of exactly one partition, so the node
	// count equals the point count; 63 points split evenly at every level,
	// so the tree is perfectly balanced.
	if tr.NumNodes() != len(points) {
		t.Errorf("NumNodes() = %d, want %d", tr.NumNodes(), len(points))
	}
	if h := tr.Height(); h != 6 {
		t.Errorf("Height() = %d, want 6", h)
	}
}

func TestHammingTreeSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	points := make([][]byte, 100)
	for i := range points {
		p := make([]byte, 32)
		rng.Read(p)
		points[i] = p
	}
	tr := NewHamming256()
	if err := tr.Set(points, 4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	query := make([][]byte, 1)
	q := make([]byte, 32)
	rng.Read(q)
	query[0] = q

	idxs, _, err := tr.Search1NN(query)
	if err != nil {
		t.Fatalf("Search1NN: %v", err)
	}
	if idxs[0] < 0 || int(idxs[0]) >= len(points) {
		t.Fatalf("Search1NN returned out-of-range index %d", idxs[0])
	}
}

// TestWithLoggerAndMetricsAreNilSafe exercises build/search/serialize with
// and without observability attached, confirming neither panics.
func TestWithLoggerAndMetricsAreNilSafe(t *testing.T) {
	points := randomPoints(rand.New(rand.NewSource(1)), 30, 4)

	tr := NewL2()
	if err := tr.Set(points, 1); err != nil {
		t.Fatalf("Set without observability: %v", err)
	}
	if _, _, err := tr.Search1NN(points[:2]); err != nil {
		t.Fatalf("Search1NN without observability: %v", err)
	}

	logger := observability.NewQueryLogger(observability.NewDefaultLogger())
	metrics := observability.NewMetrics()
	wired := NewL2().WithLogger(logger).WithMetrics(metrics)
	if err := wired.Set(points, 1); err != nil {
		t.Fatalf("Set with observability: %v", err)
	}
	if _, _, err := wired.Search1NN(points[:2]); err != nil {
		t.Fatalf("Search1NN with observability: %v", err)
	}
	if _, err := wired.SearchKNN(points[:2], 3); err != nil {
		t.Fatalf("SearchKNN with observability: %v", err)
	}
	if _, _, err := wired.Serialize(); err != nil {
		t.Fatalf("Serialize with observability: %v", err)
	}
}

func randomPoints(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}
