package batch

import (
	"errors"
	"testing"

	"golang.org/x/time/rate"
)

func TestRunAlignsResultsByIndex(t *testing.T) {
	queries := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	d := &Driver{Workers: 4}
	results, err := Run(d, queries, func(q int) (int, error) {
		return q * q, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, q := range queries {
		if results[i] != q*q {
			t.Errorf("results[%d] = %d, want %d", i, results[i], q*q)
		}
	}
}

func TestRunEmptyBatch(t *testing.T) {
	results, err := Run[int, int](nil, nil, func(q int) (int, error) { return q, nil })
	if err != nil || len(results) != 0 {
		t.Fatalf("Run(nil) = %v, %v, want empty, nil", results, err)
	}
}

func TestRunPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")
	queries := []int{1, 2, 3}
	_, err := Run(New(), queries, func(q int) (int, error) {
		if q == 2 {
			return 0, boom
		}
		return q, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestRunWithLimiterStillCompletesAllTasks(t *testing.T) {
	queries := []int{1, 2, 3, 4, 5}
	d := &Driver{Workers: 2, Limiter: rate.NewLimiter(rate.Inf, 1)}
	results, err := Run(d, queries, func(q int) (int, error) {
		return q * 2, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, q := range queries {
		if results[i] != q*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], q*2)
		}
	}
}

func TestRunDefaultsDriverWhenNil(t *testing.T) {
	results, err := Run[int, int](nil, []int{1, 2, 3}, func(q int) (int, error) { return q + 1, nil })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{2, 3, 4}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("results = %v, want %v", results, want)
		}
	}
}
