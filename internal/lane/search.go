package lane

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Mode identifies how lane pixels were searched for in a frame.
type Mode int

const (
	// ModeSlidingWindow scans the whole mask bottom-up.
	ModeSlidingWindow Mode = iota
	// ModeAroundFit looks only near the previous fits.
	ModeAroundFit
)

func (m Mode) String() string {
	switch m {
	case ModeSlidingWindow:
		return "sliding_window"
	case ModeAroundFit:
		return "around_fit"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Pixels is the set of on pixels of a binary mask, grouped by row.
type Pixels struct {
	Width  int
	Height int
	rows   [][]int
}

// NewPixels returns an empty pixel set for a width x height mask.
func NewPixels(width, height int) *Pixels {
	return &Pixels{
		Width:  width,
		Height: height,
		rows:   make([][]int, height),
	}
}

// Set marks (x, y) as on. Out-of-bounds points are ignored.
func (p *Pixels) Set(x, y int) {
	if x < 0 || x >= p.Width || y < 0 || y >= p.Height {
		return
	}
	p.rows[y] = append(p.rows[y], x)
}

// Count returns the number of on pixels.
func (p *Pixels) Count() int {
	var n int
	for _, r := range p.rows {
		n += len(r)
	}
	return n
}

// PixelsFromMat collects the non-zero pixels of a CV8UC1 mask.
func PixelsFromMat(mask gocv.Mat) (*Pixels, error) {
	if mask.Empty() || mask.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("lane search needs a CV8UC1 mask, got type %v", mask.Type())
	}

	w, h := mask.Cols(), mask.Rows()
	data := mask.ToBytes()
	p := NewPixels(w, h)
	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		for x, v := range row {
			if v != 0 {
				p.rows[y] = append(p.rows[y], x)
			}
		}
	}
	return p, nil
}

// SearchResult holds both sides' candidates for one frame.
type SearchResult struct {
	Left  Candidate
	Right Candidate
	Mode  Mode
	// Windows lists the sliding windows visited, left and right
	// interleaved from the bottom up. Empty in ModeAroundFit.
	Windows []image.Rectangle
}

// Searcher locates lane pixel candidates.
type Searcher struct {
	cfg SearchConfig
}

// NewSearcher validates cfg and returns a Searcher.
func NewSearcher(cfg SearchConfig) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Searcher{cfg: cfg}, nil
}

// Bases returns the histogram peaks of the bottom half of the mask in the
// left and right halves of the frame.
func (s *Searcher) Bases(p *Pixels) (left, right int) {
	hist := make([]int, p.Width)
	for y := p.Height / 2; y < p.Height; y++ {
		for _, x := range p.rows[y] {
			hist[x]++
		}
	}

	mid := p.Width / 2
	left = argmax(hist, 0, mid)
	right = argmax(hist, mid, p.Width)
	return left, right
}

// argmax returns the first index of the largest value in hist[from:to].
func argmax(hist []int, from, to int) int {
	best := from
	for i := from; i < to; i++ {
		if hist[i] > hist[best] {
			best = i
		}
	}
	return best
}

// SlidingWindow scans the mask bottom-up in windows that split the full
// height as evenly as integer rows allow, recentering each window on the
// mean x of the pixels found in the one below it.
func (s *Searcher) SlidingWindow(p *Pixels) SearchResult {
	leftX, rightX := s.Bases(p)

	res := SearchResult{Mode: ModeSlidingWindow}
	for w := 0; w < s.cfg.Windows; w++ {
		yLow := p.Height - (w+1)*p.Height/s.cfg.Windows
		yHigh := p.Height - w*p.Height/s.cfg.Windows

		leftWin := image.Rect(leftX-s.cfg.Margin, yLow, leftX+s.cfg.Margin, yHigh)
		rightWin := image.Rect(rightX-s.cfg.Margin, yLow, rightX+s.cfg.Margin, yHigh)
		res.Windows = append(res.Windows, leftWin, rightWin)

		leftX = s.collect(p, leftWin, &res.Left, leftX)
		rightX = s.collect(p, rightWin, &res.Right, rightX)
	}
	return res
}

// collect appends the on pixels inside win to c and returns the base x for
// the next window.
func (s *Searcher) collect(p *Pixels, win image.Rectangle, c *Candidate, base int) int {
	var n, sum int
	for y := win.Min.Y; y < win.Max.Y; y++ {
		for _, x := range p.rows[y] {
			if x >= win.Min.X && x < win.Max.X {
				c.add(x, y)
				n++
				sum += x
			}
		}
	}
	if n > 0 && n >= s.cfg.MinPixels {
		return sum / n
	}
	return base
}

// AroundFit keeps the pixels lying within PriorMargin of each prior fit.
func (s *Searcher) AroundFit(p *Pixels, left, right Fit) SearchResult {
	res := SearchResult{Mode: ModeAroundFit}
	for y := 0; y < p.Height; y++ {
		fy := float64(y)
		lx, rx := left.Eval(fy), right.Eval(fy)
		for _, x := range p.rows[y] {
			fx := float64(x)
			if fx > lx-s.cfg.PriorMargin && fx < lx+s.cfg.PriorMargin {
				res.Left.add(x, y)
			}
			if fx > rx-s.cfg.PriorMargin && fx < rx+s.cfg.PriorMargin {
				res.Right.add(x, y)
			}
		}
	}
	return res
}
