package linalg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/model"
)

func TestStackingSkipsEmptyBlocks(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})

	h := HStack(a, b)
	if r, c := h.Dims(); r != 2 || c != 3 {
		t.Fatalf("unexpected hstack dims: got=%dx%d want=2x3", r, c)
	}
	if got := Row(h, 1); got[0] != 2 || got[1] != 5 || got[2] != 6 {
		t.Fatalf("unexpected hstack row: got=%v", got)
	}
	if HStack(a, &mat.Dense{}) != a {
		t.Fatal("expected hstack with empty right to return left")
	}

	v := VStack([]*mat.Dense{b, &mat.Dense{}, b})
	if r, c := v.Dims(); r != 4 || c != 2 {
		t.Fatalf("unexpected vstack dims: got=%dx%d want=4x2", r, c)
	}
	if !IsEmpty(VStack(nil)) {
		t.Fatal("expected empty vstack of no blocks")
	}
}

func TestHStackRowMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on row mismatch")
		}
	}()
	HStack(mat.NewDense(1, 1, nil), mat.NewDense(2, 1, nil))
}

func TestColumnMeansAndCentered(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 10, 3, 20})
	means := ColumnMeans(m)
	if means[0] != 2 || means[1] != 15 {
		t.Fatalf("unexpected means: got=%v want=[2 15]", means)
	}
	c := Centered(m, means)
	if got := Row(c, 0); got[0] != -1 || got[1] != -5 {
		t.Fatalf("unexpected centered row: got=%v", got)
	}
	if m.At(0, 0) != 1 {
		t.Fatal("centered must not modify its input")
	}
}

func TestMatrixRecordRoundTrip(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	back, err := FromRecord(ToRecord(m))
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	if !mat.Equal(m, back) {
		t.Fatalf("round trip mismatch: got=%v want=%v", mat.Formatted(back), mat.Formatted(m))
	}

	empty, err := FromRecord(ToRecord(Zeros(0, 4)))
	if err != nil || !IsEmpty(empty) {
		t.Fatalf("expected empty matrix, err=%v", err)
	}
	if _, err := FromRecord(model.Matrix{Rows: 2, Cols: 2, Data: []float64{1}}); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestLinspaceAndClamp(t *testing.T) {
	got, err := Linspace(-1, 1, 5)
	if err != nil {
		t.Fatalf("linspace: %v", err)
	}
	want := []float64{-1, -0.5, 0, 0.5, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected linspace: got=%v want=%v", got, want)
		}
	}
	if _, err := Linspace(0, 1, 1); err == nil {
		t.Fatal("expected error for a single step")
	}
	if Clamp(2, 0, 1) != 1 || Clamp(-2, 0, 1) != 0 || Clamp(0.5, 0, 1) != 0.5 {
		t.Fatal("unexpected clamp")
	}
}
