package bktree

import (
	"encoding/binary"
	"math/bits"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/kernel"
)

// Metric computes the pairwise distance used to build and search a BK tree.
// The distance must be non-negative and int64-typed: threshold search's
// triangle-inequality arithmetic (d - threshold) must be able to go
// negative without wrapping, which rules out an unsigned distance type.
type Metric[K any] interface {
	Distance(a, b K) int64
}

// ThresholdMetric is the optional early-out extension point. ThresholdDistance
// may abandon a partial computation and report absent (ok=false) once it
// proves the true distance exceeds cutoff — at that point every descendant
// of the candidate is also provably out of range, so the caller treats
// absent as "prune this entire subtree," not merely "don't report a hit."
type ThresholdMetric[K any] interface {
	Metric[K]
	ThresholdDistance(query, candidate K, cutoff int64) (distance int64, ok bool)
}

// HammingMetric computes Hamming distance over byte-packed bit vectors
// whose length is a multiple of 8. It implements ThresholdMetric with an
// early-out word-by-word popcount accumulation.
type HammingMetric struct{}

func (HammingMetric) Distance(a, b []byte) int64 {
	return kernel.HammingBits(a, b)
}

func (HammingMetric) ThresholdDistance(query, candidate []byte, cutoff int64) (int64, bool) {
	var h int64
	n := len(query) - len(query)%8
	for i := 0; i < n; i += 8 {
		wa := binary.LittleEndian.Uint64(query[i : i+8])
		wb := binary.LittleEndian.Uint64(candidate[i : i+8])
		h += int64(bits.OnesCount64(wa ^ wb))
		if h > cutoff {
			return 0, false
		}
	}
	for i := n; i < len(query); i++ {
		h += int64(bits.OnesCount8(query[i] ^ candidate[i]))
		if h > cutoff {
			return 0, false
		}
	}
	return h, true
}
