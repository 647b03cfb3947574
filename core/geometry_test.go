package core

import (
	"math"
	"testing"
)

func TestWrapLongitude(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{179, 179},
		{180, -180},
		{-180, -180},
		{184, -176},
		{-184, 176},
		{540, -180},
		{725, 5},
		{-725, -5},
	}
	for _, tc := range cases {
		got := WrapLongitude(tc.in)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("WrapLongitude(%v) = %v, want %v", tc.in, got, tc.want)
		}
		if got < -180 || got >= 180 {
			t.Fatalf("WrapLongitude(%v) = %v, out of [-180, 180)", tc.in, got)
		}
	}
}

func TestWrapLongitudeTinyNegative(t *testing.T) {
	got := WrapLongitude(-180 - 1e-15)
	if got < -180 || got >= 180 {
		t.Fatalf("WrapLongitude(-180-eps) = %v, out of [-180, 180)", got)
	}
}

func TestClampLatitude(t *testing.T) {
	if got := ClampLatitude(95); got != 90 {
		t.Fatalf("ClampLatitude(95) = %v, want 90", got)
	}
	if got := ClampLatitude(-91); got != -90 {
		t.Fatalf("ClampLatitude(-91) = %v, want -90", got)
	}
	if got := ClampLatitude(45.5); got != 45.5 {
		t.Fatalf("ClampLatitude(45.5) = %v, want 45.5", got)
	}
}
