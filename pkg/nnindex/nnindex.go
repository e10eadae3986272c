// Package nnindex provides the boundary adapters between a row-major
// numeric buffer (the shape a foreign caller hands across a binding) and the
// vector-of-vectors / checksummed-blob shapes the tree packages use.
package nnindex

import (
	"fmt"
	"hash/crc32"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
)

// FromRowMajor splits a flat row-major buffer of n rows of d elements each
// into owned per-row slices.
func FromRowMajor[T any](data []T, n, d int) ([][]T, error) {
	if n*d != len(data) {
		return nil, nnerrors.New(nnerrors.DimensionMismatch, fmt.Sprintf("row-major buffer has %d elements, want %d*%d=%d", len(data), n, d, n*d))
	}

	rows := make([][]T, n)
	for i := 0; i < n; i++ {
		row := make([]T, d)
		copy(row, data[i*d:(i+1)*d])
		rows[i] = row
	}
	return rows, nil
}

// ToRowMajor flattens a vector-of-vectors into a single row-major buffer,
// returning the row count and uniform row width alongside it.
func ToRowMajor[T any](rows [][]T) ([]T, int, int, error) {
	if len(rows) == 0 {
		return nil, 0, 0, nil
	}

	d := len(rows[0])
	data := make([]T, 0, len(rows)*d)
	for i, row := range rows {
		if len(row) != d {
			return nil, 0, 0, nnerrors.New(nnerrors.DimensionMismatch, fmt.Sprintf("row %d has %d elements, want %d", i, len(row), d))
		}
		data = append(data, row...)
	}
	return data, len(rows), d, nil
}

// Blob is the persisted-bytes-plus-checksum pair handed across a binding
// boundary to a tree's Deserialize.
type Blob struct {
	Bytes    []byte
	Checksum uint32
}

// Valid recomputes the CRC32 of Bytes and reports whether it matches
// Checksum, giving callers a cheap pre-check before attempting to
// reconstruct a tree from the blob.
func (b Blob) Valid() bool {
	return crc32.ChecksumIEEE(b.Bytes) == b.Checksum
}
