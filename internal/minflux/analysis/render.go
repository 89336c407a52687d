package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// RenderType selects how localizations are drawn.
type RenderType int

const (
	// RenderHistogram counts the localizations falling into each pixel.
	RenderHistogram RenderType = iota
	// RenderFixedGaussian adds a Gaussian of fixed FWHM at the sub-pixel
	// position of each localization.
	RenderFixedGaussian
)

// ParseRenderType accepts "histogram" and "fixed_gaussian".
func ParseRenderType(s string) (RenderType, error) {
	switch s {
	case "", "histogram":
		return RenderHistogram, nil
	case "fixed_gaussian", "gaussian":
		return RenderFixedGaussian, nil
	}
	return 0, fmt.Errorf("unknown render type %q (want histogram or fixed_gaussian)", s)
}

func (t RenderType) String() string {
	if t == RenderFixedGaussian {
		return "fixed_gaussian"
	}
	return "histogram"
}

// MaxRenderSize bounds the number of pixels (or voxels) of a render.
const MaxRenderSize = 1 << 26

// ErrRenderTooLarge is returned when the ranges and pixel size ask for
// more than MaxRenderSize pixels.
var ErrRenderTooLarge = errors.New("render too large")

// RenderOptions configures RenderXY and RenderXYZ. Pixel sizes are in
// the unit of the coordinates. Nil ranges default to the finite extent of
// the data. A zero FWHM defaults to three times the pixel diagonal.
type RenderOptions struct {
	SX, SY, SZ float64
	RX, RY, RZ *Range
	Type       RenderType
	FWHM       float64
}

// Image is a rendered 2D localization map. Pix is row major with Ny rows
// of Nx pixels; row 0 is the top of the image (largest y).
type Image struct {
	Nx, Ny int
	Pix    []float32
	// XI and YI are the pixel center coordinates along x and y.
	XI, YI []float64
	// Used flags the input localizations that contributed to the image.
	Used []bool
}

// At returns the pixel at column c and row r.
func (im *Image) At(c, r int) float32 { return im.Pix[r*im.Nx+c] }

// Sum returns the total intensity of the image.
func (im *Image) Sum() float64 {
	var s float64
	for _, v := range im.Pix {
		s += float64(v)
	}
	return s
}

// Volume is a rendered 3D localization map indexed [z][y][x], with y
// flipped as in Image.
type Volume struct {
	Nx, Ny, Nz int
	Vox        []float32
	XI, YI, ZI []float64
	Used       []bool
}

// At returns the voxel at column c, row r and slice s.
func (v *Volume) At(c, r, s int) float32 { return v.Vox[(s*v.Ny+r)*v.Nx+c] }

// RenderXY renders x, y localizations into an image.
func RenderXY(x, y []float64, opts RenderOptions) (*Image, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("x and y differ in length: %d != %d", len(x), len(y))
	}
	if opts.SX <= 0 || opts.SY <= 0 {
		return nil, fmt.Errorf("pixel size must be positive, got (%g, %g)", opts.SX, opts.SY)
	}
	fwhm := opts.FWHM
	if fwhm <= 0 {
		fwhm = 3 * math.Hypot(opts.SX, opts.SY)
	}
	r, err := newRenderer([][]float64{x, y}, []float64{opts.SX, opts.SY}, []*Range{opts.RX, opts.RY})
	if err != nil {
		return nil, err
	}
	r.draw(opts.Type, fwhm)
	return &Image{
		Nx: r.shape[0], Ny: r.shape[1],
		Pix:  r.data,
		XI:   r.centers(0),
		YI:   r.centers(1),
		Used: r.used,
	}, nil
}

// RenderXYZ renders x, y, z localizations into a volume.
func RenderXYZ(x, y, z []float64, opts RenderOptions) (*Volume, error) {
	if len(x) != len(y) || len(x) != len(z) {
		return nil, fmt.Errorf("x, y and z differ in length: %d, %d, %d", len(x), len(y), len(z))
	}
	if opts.SX <= 0 || opts.SY <= 0 || opts.SZ <= 0 {
		return nil, fmt.Errorf("voxel size must be positive, got (%g, %g, %g)", opts.SX, opts.SY, opts.SZ)
	}
	fwhm := opts.FWHM
	if fwhm <= 0 {
		fwhm = 3 * math.Sqrt(opts.SX*opts.SX+opts.SY*opts.SY+opts.SZ*opts.SZ)
	}
	r, err := newRenderer([][]float64{x, y, z}, []float64{opts.SX, opts.SY, opts.SZ}, []*Range{opts.RX, opts.RY, opts.RZ})
	if err != nil {
		return nil, err
	}
	r.draw(opts.Type, fwhm)
	return &Volume{
		Nx: r.shape[0], Ny: r.shape[1], Nz: r.shape[2],
		Vox:  r.data,
		XI:   r.centers(0),
		YI:   r.centers(1),
		ZI:   r.centers(2),
		Used: r.used,
	}, nil
}

// renderer draws points on a grid with axes ordered x, y[, z]. Storage is
// row major with x fastest and the y axis flipped.
type renderer struct {
	coords [][]float64
	step   []float64
	ranges []Range
	shape  []int
	data   []float32
	used   []bool
}

func newRenderer(coords [][]float64, step []float64, ranges []*Range) (*renderer, error) {
	r := &renderer{coords: coords, step: step, ranges: make([]Range, len(coords)), shape: make([]int, len(coords))}
	size := 1
	for a, c := range coords {
		if ranges[a] != nil {
			r.ranges[a] = *ranges[a]
		} else {
			v := finite(c)
			if len(v) == 0 {
				return nil, ErrNoData
			}
			r.ranges[a] = Range{floats.Min(v), floats.Max(v)}
		}
		n := math.Ceil(r.ranges[a].Span() / step[a])
		if !(n >= 0) || n > MaxRenderSize {
			return nil, fmt.Errorf("%w: axis %d needs %g pixels", ErrRenderTooLarge, a, n)
		}
		r.shape[a] = int(n)
		if r.shape[a] > 0 && size > MaxRenderSize/r.shape[a] {
			return nil, fmt.Errorf("%w: more than %d pixels", ErrRenderTooLarge, MaxRenderSize)
		}
		size *= r.shape[a]
	}
	r.data = make([]float32, size)
	r.used = make([]bool, len(coords[0]))
	return r, nil
}

// offset returns the storage index of grid position idx.
func (r *renderer) offset(idx []int) int {
	off := 0
	for a := len(idx) - 1; a >= 0; a-- {
		i := idx[a]
		if a == 1 {
			i = r.shape[1] - 1 - i
		}
		off = off*r.shape[a] + i
	}
	return off
}

func (r *renderer) centers(a int) []float64 {
	c := make([]float64, r.shape[a])
	for i := range c {
		c[i] = r.ranges[a][0] + float64(i)*r.step[a] + r.step[a]/2
	}
	return c
}

// position returns the sub-pixel position p and the nearest pixel idx of
// point i, and whether idx lies at least margin pixels inside the grid.
func (r *renderer) position(i, margin int, p []float64, idx []int) bool {
	for a := range r.coords {
		p[a] = (r.coords[a][i] - r.ranges[a][0]) / r.step[a]
		if math.IsNaN(p[a]) || math.IsInf(p[a], 0) {
			return false
		}
		rounded := math.RoundToEven(p[a])
		if rounded < float64(margin) || rounded >= float64(r.shape[a]-margin) {
			return false
		}
		idx[a] = int(rounded)
	}
	return true
}

func (r *renderer) draw(t RenderType, fwhm float64) {
	dims := len(r.coords)
	p := make([]float64, dims)
	idx := make([]int, dims)

	if t != RenderFixedGaussian {
		for i := range r.used {
			if r.position(i, 0, p, idx) {
				r.data[r.offset(idx)]++
				r.used[i] = true
			}
		}
		return
	}

	w := make([]float64, dims)
	maxW := 0.0
	for a := range w {
		w[a] = fwhm / r.step[a]
		maxW = math.Max(maxW, w[a])
	}
	half := int(math.Ceil(2 * maxW))
	side := 2*half + 1
	kernelSize := 1
	for range dims {
		kernelSize *= side
	}

	g := make([]int, dims)
	at := make([]int, dims)
	ln2 := 4 * math.Ln2
	for i := range r.used {
		if !r.position(i, half, p, idx) {
			continue
		}
		r.used[i] = true
		for k := 0; k < kernelSize; k++ {
			rem := k
			e := 0.0
			for a := 0; a < dims; a++ {
				g[a] = rem%side - half
				rem /= side
				d := float64(g[a]) - (p[a] - float64(idx[a]))
				e += d * d / (w[a] * w[a])
				at[a] = idx[a] + g[a]
			}
			r.data[r.offset(at)] += float32(math.Exp(-ln2 * e))
		}
	}
}
