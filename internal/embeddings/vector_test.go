package embeddings

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})

	var length float64
	for _, x := range v {
		length += float64(x) * float64(x)
	}
	if math.Abs(length-1.0) > 1e-6 {
		t.Errorf("expected unit length, got %f", math.Sqrt(length))
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("unexpected normalized vector: %v", v)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for _, x := range v {
		if x != 0 {
			t.Errorf("zero vector changed: %v", v)
		}
	}
}

func TestDotOfNormalizedIsCosine(t *testing.T) {
	a := Normalize([]float32{1, 0})
	b := Normalize([]float32{1, 1})

	got := Dot(a, b)
	want := math.Cos(math.Pi / 4)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("dot = %f, want %f", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := []float32{0.1, -2.5, 3.75, 0}

	decoded, err := Decode(Encode(v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(v) {
		t.Fatalf("expected %d values, got %d", len(v), len(decoded))
	}
	for i := range v {
		if decoded[i] != v[i] {
			t.Errorf("value %d: got %f, want %f", i, decoded[i], v[i])
		}
	}
}

func TestDecodeRejectsTruncatedBlob(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
