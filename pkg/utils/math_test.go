package utils

import (
	"math"
	"testing"
)

func TestDot(t *testing.T) {
	if got := Dot([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Errorf("Dot(identical unit) = %f, want 1", got)
	}
	if got := Dot([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Dot(orthogonal) = %f, want 0", got)
	}
	if got := Dot([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("Dot(mismatched) = %f, want 0", got)
	}
	if got := Dot(nil, nil); got != 0 {
		t.Errorf("Dot(empty) = %f, want 0", got)
	}
}

func TestEuclideanDistance(t *testing.T) {
	if got := EuclideanDistance([]float32{0, 0}, []float32{3, 4}); got != 5 {
		t.Errorf("distance = %f, want 5", got)
	}
	if got := EuclideanDistance([]float32{1}, []float32{1, 2}); !math.IsInf(got, 1) {
		t.Errorf("mismatched dims = %f, want +Inf", got)
	}
	if got := EuclideanDistance(nil, nil); !math.IsInf(got, 1) {
		t.Errorf("empty = %f, want +Inf", got)
	}
}

func TestNormalizeAndIsUnit(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if !IsUnit(v) {
		t.Errorf("normalized vector not unit: norm = %f", L2Norm(v))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v", v)
	}
	zero := []float32{0, 0}
	if got := Normalize(zero); got[0] != 0 || got[1] != 0 {
		t.Errorf("zero vector changed: %v", got)
	}
	if IsUnit(zero) {
		t.Error("zero vector is not unit")
	}
}

func TestEnsureUnit(t *testing.T) {
	unit := []float32{1, 0}
	if got := EnsureUnit(unit); &got[0] != &unit[0] {
		t.Error("already-unit vector should be returned as-is")
	}
	big := []float32{2, 0}
	got := EnsureUnit(big)
	if big[0] != 2 {
		t.Error("EnsureUnit must not mutate its input")
	}
	if !IsUnit(got) {
		t.Errorf("result not unit: %v", got)
	}
}
