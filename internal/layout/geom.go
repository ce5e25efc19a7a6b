package layout

// Rect is a container geometry in output pixels as reported by GET_TREE.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Orientation is the direction a split places its children in.
type Orientation string

const (
	Horizontal Orientation = "h"
	Vertical   Orientation = "v"
)

// PreferredSplit returns the orientation that keeps new children closest to
// square: wide rects split side by side, everything else splits top to bottom.
func PreferredSplit(r Rect) Orientation {
	if r.Width > r.Height {
		return Horizontal
	}
	return Vertical
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}
