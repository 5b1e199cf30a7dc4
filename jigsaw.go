package qzlogin

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/rand"
)

// Jigsaw locates the x-offset at which a puzzle piece fits the dimmed
// notch in a slide-captcha background.
type Jigsaw struct {
	puzzle *image.NRGBA
	piece  *pieceSprite
	top    int
}

// NewJigsaw decodes the puzzle background and the piece sprite. spriteRect
// is the piece's area inside the sprite sheet, top is the vertical hint
// from the captcha render config.
func NewJigsaw(puzzle, sprite []byte, spriteRect image.Rectangle, top int) (*Jigsaw, error) {
	bg, err := decodeNRGBA(puzzle)
	if err != nil {
		return nil, NewParseError("decode puzzle image", err)
	}
	sheet, err := decodeNRGBA(sprite)
	if err != nil {
		return nil, NewParseError("decode piece sprite", err)
	}
	if !spriteRect.In(sheet.Rect) {
		return nil, NewParseError("piece sprite rect out of bounds", nil)
	}
	p, err := newPieceSprite(cropNRGBA(sheet, spriteRect))
	if err != nil {
		return nil, err
	}
	return &Jigsaw{puzzle: bg, piece: p, top: top}, nil
}

// Left solves the captcha and returns the drag-to offset: the match
// position minus the piece's left padding inside its sprite canvas.
func (j *Jigsaw) Left() (int, error) {
	left, err := j.match()
	if err != nil {
		return 0, err
	}
	return left - j.piece.padding.X, nil
}

// match runs masked normalized cross-correlation of the imitated piece
// template against a horizontal strip of the puzzle at the hinted height.
// The leftmost maximum wins.
func (j *Jigsaw) match() (int, error) {
	tmpl, mask := j.piece.imitated()
	bw := tmpl.Rect.Dx()
	bh := tmpl.Rect.Dy()

	top := j.top + j.piece.padding.Y
	if top < 0 {
		top = 0
	}
	if top+bh > j.puzzle.Rect.Dy() || bw > j.puzzle.Rect.Dx() {
		return 0, NewParseError("piece larger than puzzle strip", nil)
	}

	strip := grayF64(j.puzzle, image.Rect(0, top, j.puzzle.Rect.Dx(), top+bh))
	tpl := grayF64(tmpl, tmpl.Rect)

	// masked template statistics are loop-invariant
	var maskN, tplSum float64
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			if mask[y][x] {
				maskN++
				tplSum += tpl[y][x]
			}
		}
	}
	if maskN == 0 {
		return 0, NewParseError("empty piece mask", nil)
	}
	tplMean := tplSum / maskN
	var tplVar float64
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			if mask[y][x] {
				d := tpl[y][x] - tplMean
				tplVar += d * d
			}
		}
	}

	best, bestAt := math.Inf(-1), 0
	for off := 0; off <= len(strip[0])-bw; off++ {
		var winSum float64
		for y := 0; y < bh; y++ {
			row := strip[y]
			mrow := mask[y]
			for x := 0; x < bw; x++ {
				if mrow[x] {
					winSum += row[off+x]
				}
			}
		}
		winMean := winSum / maskN

		var num, winVar float64
		for y := 0; y < bh; y++ {
			row := strip[y]
			mrow := mask[y]
			trow := tpl[y]
			for x := 0; x < bw; x++ {
				if mrow[x] {
					dw := row[off+x] - winMean
					num += (trow[x] - tplMean) * dw
					winVar += dw * dw
				}
			}
		}
		den := math.Sqrt(tplVar * winVar)
		if den == 0 {
			continue
		}
		if score := num / den; score > best {
			best = score
			bestAt = off
		}
	}
	return bestAt, nil
}

// pieceSprite is the piece cutout with its opaque silhouette extracted
// from the alpha channel.
type pieceSprite struct {
	img     *image.NRGBA
	mask    [][]bool        // silhouette membership, sprite coordinates
	bbox    image.Rectangle // silhouette bounding box
	padding image.Point     // gap between bbox and the sprite canvas origin
}

func newPieceSprite(img *image.NRGBA) (*pieceSprite, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	opaque := make([][]bool, h)
	for y := 0; y < h; y++ {
		opaque[y] = make([]bool, w)
		for x := 0; x < w; x++ {
			opaque[y][x] = img.NRGBAAt(img.Rect.Min.X+x, img.Rect.Min.Y+y).A >= 128
		}
	}

	comps := connectedComponents(opaque)

	// The real silhouette contains the sprite center and not the origin.
	center := image.Pt(w/2, h/2)
	var candidates []component
	for _, c := range comps {
		if c.contains(center) && !c.contains(image.Pt(0, 0)) {
			candidates = append(candidates, c)
		}
	}
	// Two nested candidates: keep the outer one (the one enclosing the
	// other's bounding box).
	if len(candidates) == 2 {
		if candidates[1].bbox.In(candidates[0].bbox) {
			candidates = candidates[:1]
		} else if candidates[0].bbox.In(candidates[1].bbox) {
			candidates = candidates[1:]
		}
	}
	if len(candidates) != 1 {
		return nil, NewParseError("ambiguous piece silhouette", nil)
	}

	c := candidates[0]
	return &pieceSprite{
		img:     img,
		mask:    c.member,
		bbox:    c.bbox,
		padding: c.bbox.Min,
	}, nil
}

// imitated renders the cropped piece the way the portal draws the notch:
// dimmed to 30% with the silhouette outline in white. Returns the template
// and its per-pixel validity mask.
func (p *pieceSprite) imitated() (*image.NRGBA, [][]bool) {
	bw, bh := p.bbox.Dx(), p.bbox.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, bw, bh))
	mask := make([][]bool, bh)
	for y := 0; y < bh; y++ {
		mask[y] = make([]bool, bw)
		for x := 0; x < bw; x++ {
			sx, sy := p.bbox.Min.X+x, p.bbox.Min.Y+y
			if !p.mask[sy][sx] {
				continue
			}
			mask[y][x] = true
			src := p.img.NRGBAAt(p.img.Rect.Min.X+sx, p.img.Rect.Min.Y+sy)
			if p.onBoundary(sx, sy) {
				out.SetNRGBA(x, y, nrgba(255, 255, 255))
			} else {
				out.SetNRGBA(x, y, nrgba(
					uint8(float64(src.R)*0.3),
					uint8(float64(src.G)*0.3),
					uint8(float64(src.B)*0.3)))
			}
		}
	}
	return out, mask
}

func (p *pieceSprite) onBoundary(x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if ny < 0 || ny >= len(p.mask) || nx < 0 || nx >= len(p.mask[0]) {
				return true
			}
			if !p.mask[ny][nx] {
				return true
			}
		}
	}
	return false
}

type component struct {
	member [][]bool
	bbox   image.Rectangle
}

func (c component) contains(pt image.Point) bool {
	// membership of the pixel itself, or enclosure by the bounding box for
	// points inside holes of the silhouette
	if pt.Y >= 0 && pt.Y < len(c.member) && pt.X >= 0 && pt.X < len(c.member[0]) && c.member[pt.Y][pt.X] {
		return true
	}
	return pt.In(c.bbox.Inset(1))
}

// connectedComponents labels 4-connected regions of the binary mask.
func connectedComponents(mask [][]bool) []component {
	h := len(mask)
	if h == 0 {
		return nil
	}
	w := len(mask[0])
	seen := make([][]bool, h)
	for y := range seen {
		seen[y] = make([]bool, w)
	}

	var comps []component
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y][x] || seen[y][x] {
				continue
			}
			member := make([][]bool, h)
			for i := range member {
				member[i] = make([]bool, w)
			}
			bbox := image.Rect(x, y, x+1, y+1)
			stack := []image.Point{{X: x, Y: y}}
			seen[y][x] = true
			for len(stack) > 0 {
				pt := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				member[pt.Y][pt.X] = true
				bbox = bbox.Union(image.Rect(pt.X, pt.Y, pt.X+1, pt.Y+1))
				for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, ny := pt.X+d.X, pt.Y+d.Y
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					if mask[ny][nx] && !seen[ny][nx] {
						seen[ny][nx] = true
						stack = append(stack, image.Pt(nx, ny))
					}
				}
			}
			comps = append(comps, component{member: member, bbox: bbox})
		}
	}
	return comps
}

// imitateDrag synthesizes a plausible mouse trajectory from x1 to x2 at
// height y. Only presence and monotonic progress matter to the portal.
func imitateDrag(x1, x2, y int) [][2]int {
	n := 50 + rand.Intn(15)
	pts := make([][2]int, n)
	span := float64(x2-x1) / float64(n-1)
	prev := x1
	for i := 0; i < n; i++ {
		x := x1 + int(span*float64(i))
		switch {
		case i == 0:
			x = x1
		case i == n-1:
			x = x2
		default:
			x += rand.Intn(5) - 2
			if x <= prev {
				x = prev
			}
			if x > x2 {
				x = x2
			}
		}
		prev = x
		py := y
		switch rand.Intn(10) {
		case 0:
			py = y - 1
		case 1:
			py = y + 1
		}
		pts[i] = [2]int{x, py}
	}
	return pts
}

func nrgba(r, g, b uint8) color.NRGBA {
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

func decodeNRGBA(b []byte) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if n, ok := img.(*image.NRGBA); ok {
		return n, nil
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return out, nil
}

func cropNRGBA(img *image.NRGBA, r image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.SetNRGBA(x, y, img.NRGBAAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

// grayF64 converts a sub-rectangle to row-major luminance values.
func grayF64(img *image.NRGBA, r image.Rectangle) [][]float64 {
	out := make([][]float64, r.Dy())
	for y := 0; y < r.Dy(); y++ {
		out[y] = make([]float64, r.Dx())
		for x := 0; x < r.Dx(); x++ {
			c := img.NRGBAAt(r.Min.X+x, r.Min.Y+y)
			out[y][x] = 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		}
	}
	return out
}
