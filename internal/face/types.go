package face

// BBox is a pixel-space box, x1/y1 inclusive, x2/y2 exclusive.
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Width returns the box width, never negative.
func (b BBox) Width() int {
	if b.X2 <= b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height, never negative.
func (b BBox) Height() int {
	if b.Y2 <= b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns the box area.
func (b BBox) Area() int {
	return b.Width() * b.Height()
}

// IoU computes intersection-over-union with another box.
func (b BBox) IoU(o BBox) float64 {
	ix1 := max(b.X1, o.X1)
	iy1 := max(b.Y1, o.Y1)
	ix2 := min(b.X2, o.X2)
	iy2 := min(b.Y2, o.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(b.Area()+o.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one detected face: a box and, when the backend produced
// one, an L2-normalized embedding.
type Detection struct {
	Box       BBox
	Embedding []float32
}

// Embed returns the detection's embedding vector, if present.
func Embed(d Detection) ([]float32, bool) {
	if len(d.Embedding) == 0 {
		return nil, false
	}
	return d.Embedding, true
}
