package nnindex

import (
	"errors"
	"testing"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/nnerrors"
)

func TestFromRowMajorRoundTrip(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	rows, err := FromRowMajor(data, 3, 2)
	if err != nil {
		t.Fatalf("FromRowMajor: %v", err)
	}
	want := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	for i, row := range rows {
		if len(row) != len(want[i]) || row[0] != want[i][0] || row[1] != want[i][1] {
			t.Fatalf("row %d = %v, want %v", i, row, want[i])
		}
	}
}

func TestFromRowMajorRejectsMismatch(t *testing.T) {
	_, err := FromRowMajor([]float32{1, 2, 3}, 2, 2)
	if !errors.Is(err, nnerrors.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want DimensionMismatch", err)
	}
}

func TestToRowMajorRoundTrip(t *testing.T) {
	rows := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	data, n, d, err := ToRowMajor(rows)
	if err != nil {
		t.Fatalf("ToRowMajor: %v", err)
	}
	if n != 3 || d != 2 {
		t.Fatalf("n=%d d=%d, want 3,2", n, d)
	}
	want := []float32{1, 2, 3, 4, 5, 6}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("data[%d] = %v, want %v", i, data[i], want[i])
		}
	}
}

func TestToRowMajorRejectsRaggedRows(t *testing.T) {
	_, _, _, err := ToRowMajor([][]float32{{1, 2}, {3}})
	if !errors.Is(err, nnerrors.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want DimensionMismatch", err)
	}
}

func TestToRowMajorEmpty(t *testing.T) {
	data, n, d, err := ToRowMajor[float32](nil)
	if err != nil || data != nil || n != 0 || d != 0 {
		t.Fatalf("ToRowMajor(nil) = %v, %d, %d, %v", data, n, d, err)
	}
}

func TestBlobValid(t *testing.T) {
	b := Blob{Bytes: []byte("hello")}
	if b.Valid() {
		t.Fatal("expected zero checksum to be invalid for non-empty bytes")
	}

	b.Checksum = 0x3610a686 // crc32.ChecksumIEEE([]byte("hello"))
	if !b.Valid() {
		t.Fatal("expected matching checksum to validate")
	}

	b.Bytes = []byte("tampered")
	if b.Valid() {
		t.Fatal("expected tampered bytes to invalidate checksum")
	}
}
