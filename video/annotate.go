package video

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

const (
	lineWidth = 2
	// Distance between the label baseline and the top of its box
	labelGap = 10
)

var (
	BoxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	LabelColor = color.RGBA{R: 36, G: 255, B: 12, A: 255}

	labelFace = inconsolata.Bold8x16
)

// Annotate draws the boxes and labels onto the frame in place, in the given order
func Annotate(frame *image.RGBA, annotations []Annotation) {
	bounds := frame.Bounds()
	box := image.NewUniform(BoxColor)
	text := image.NewUniform(LabelColor)
	for _, a := range annotations {
		rect := a.Box.Pixels(bounds.Dx(), bounds.Dy()).Add(bounds.Min)
		if rect.Empty() {
			continue
		}
		drawOutline(frame, rect, box)
		if a.Label == "" {
			continue
		}
		d := font.Drawer{
			Dst:  frame,
			Src:  text,
			Face: labelFace,
		}
		origin := labelOrigin(bounds, rect, d.MeasureString(a.Label).Ceil())
		d.Dot = fixed.P(origin.X, origin.Y)
		d.DrawString(a.Label)
	}
}

// drawOutline draws the border of rect inwards, clipped to the frame
func drawOutline(dst *image.RGBA, rect image.Rectangle, src image.Image) {
	w := min(lineWidth, rect.Dx(), rect.Dy())
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+w),
		image.Rect(rect.Min.X, rect.Max.Y-w, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+w, rect.Max.Y),
		image.Rect(rect.Max.X-w, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		e = e.Intersect(dst.Bounds())
		if !e.Empty() {
			draw.Draw(dst, e, src, image.Point{}, draw.Src)
		}
	}
}

// labelOrigin returns the baseline start of a label of the given width. The label sits
// above the box, or just inside it when there is no room above, and never leaves the frame
func labelOrigin(bounds, rect image.Rectangle, width int) image.Point {
	metrics := labelFace.Metrics()
	ascent := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()

	x := rect.Min.X
	if x+width > bounds.Max.X {
		x = bounds.Max.X - width
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}
	y := rect.Min.Y - labelGap
	if y-ascent < bounds.Min.Y {
		y = max(rect.Min.Y, bounds.Min.Y) + lineWidth + ascent
	}
	if y+descent > bounds.Max.Y {
		y = bounds.Max.Y - descent
	}
	return image.Pt(x, y)
}
