package solver

import (
	"testing"

	"github.com/chromedp/cdproto/dom"
)

func TestClickPoint(t *testing.T) {
	tests := []struct {
		name string
		quad dom.Quad
		bias Bias
		want Point
	}{
		{"centroid of 8-point quad", dom.Quad{10, 10, 110, 10, 110, 60, 10, 60}, Centroid, Point{60, 35}},
		{"centroid of min/max quad", dom.Quad{10, 10, 110, 60}, Centroid, Point{60, 35}},
		{"zero bias is centroid", dom.Quad{10, 10, 110, 10, 110, 60, 10, 60}, Bias{}, Point{60, 35}},
		{"left biased x", dom.Quad{10, 10, 110, 10, 110, 60, 10, 60}, Bias{X: 0.25, Y: 0.5}, Point{35, 35}},
		{"floors fractions", dom.Quad{0.5, 0.5, 11, 0.5, 11, 8, 0.5, 8}, Centroid, Point{5, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClickPoint(tt.quad, tt.bias)
			if err != nil {
				t.Fatalf("ClickPoint() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ClickPoint() = %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestClickPointRejectsShortQuad(t *testing.T) {
	if _, err := ClickPoint(dom.Quad{1, 2, 3}, Centroid); err == nil {
		t.Fatal("ClickPoint() with 3 values should fail")
	}
	if _, err := ClickPoint(nil, Centroid); err == nil {
		t.Fatal("ClickPoint() with nil quad should fail")
	}
}

// The legacy bias is the (3*x1 + x3) / 4 point.
func TestLegacyBiasMatchesQuarterFormula(t *testing.T) {
	p, err := Preset("legacy")
	if err != nil {
		t.Fatal(err)
	}
	x1, x3 := 40.0, 240.0
	got, err := ClickPoint(dom.Quad{x1, 0, x3, 0, x3, 20, x1, 20}, p.Bias)
	if err != nil {
		t.Fatal(err)
	}
	if want := (3*x1 + x3) / 4; got.X != want {
		t.Fatalf("legacy X = %v; want %v", got.X, want)
	}
}
