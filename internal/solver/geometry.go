package solver

import (
	"fmt"
	"math"

	"github.com/chromedp/cdproto/dom"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bias places the click inside the box: 0 is the top/left edge, 1 the
// bottom/right edge. The zero value means centroid.
type Bias struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Centroid clicks the middle of the box.
var Centroid = Bias{X: 0.5, Y: 0.5}

func (b Bias) orCentroid() Bias {
	if b.X == 0 && b.Y == 0 {
		return Centroid
	}
	return b
}

// ClickPoint derives a click point from a content quad. An 8-value quad uses
// the diagonal corners (x1,y1) and (x3,y3); a 4-value quad is read as
// min/max corners. The result is floored to whole pixels.
func ClickPoint(q dom.Quad, b Bias) (Point, error) {
	var x1, y1, x3, y3 float64
	switch len(q) {
	case 8:
		x1, y1, x3, y3 = q[0], q[1], q[4], q[5]
	case 4:
		x1, y1, x3, y3 = q[0], q[1], q[2], q[3]
	default:
		return Point{}, fmt.Errorf("quad has %d values", len(q))
	}
	b = b.orCentroid()
	return Point{
		X: math.Floor(x1 + (x3-x1)*b.X),
		Y: math.Floor(y1 + (y3-y1)*b.Y),
	}, nil
}
