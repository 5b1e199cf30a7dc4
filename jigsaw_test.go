package qzlogin

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

const (
	spriteSize = 48
	piecePad   = 4
	puzzleW    = 280
	puzzleH    = 120
	notchX     = 100
	topHint    = 40
)

// buildPiece returns a sprite sheet whose opaque silhouette is a square
// from (piecePad,piecePad) to (spriteSize-piecePad, spriteSize-piecePad),
// filled with a deterministic pattern.
func buildPiece() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, spriteSize, spriteSize))
	for y := 0; y < spriteSize; y++ {
		for x := 0; x < spriteSize; x++ {
			inside := x >= piecePad && x < spriteSize-piecePad &&
				y >= piecePad && y < spriteSize-piecePad
			if !inside {
				continue
			}
			img.SetNRGBA(x, y, nrgba(
				uint8(60+x*3),
				uint8(40+y*3),
				uint8(120+(x^y))))
		}
	}
	return img
}

// buildPuzzle paints textured noise and pastes the dimmed-with-outline
// rendering of the piece at the known notch position.
func buildPuzzle(p *pieceSprite) *image.NRGBA {
	bg := image.NewNRGBA(image.Rect(0, 0, puzzleW, puzzleH))
	seed := uint32(12345)
	for y := 0; y < puzzleH; y++ {
		for x := 0; x < puzzleW; x++ {
			seed = seed*1664525 + 1013904223
			v := uint8(seed >> 24)
			bg.SetNRGBA(x, y, nrgba(v, v/2+64, v/3+32))
		}
	}

	tmpl, mask := p.imitated()
	stripTop := topHint + p.padding.Y
	for y := 0; y < tmpl.Rect.Dy(); y++ {
		for x := 0; x < tmpl.Rect.Dx(); x++ {
			if mask[y][x] {
				bg.SetNRGBA(notchX+x, stripTop+y, tmpl.NRGBAAt(x, y))
			}
		}
	}
	return bg
}

func encodePNG(t *testing.T, img *image.NRGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newSyntheticJigsaw(t *testing.T) *Jigsaw {
	t.Helper()
	piece := buildPiece()
	sprite, err := newPieceSprite(piece)
	if err != nil {
		t.Fatalf("piece silhouette: %v", err)
	}
	puzzle := buildPuzzle(sprite)

	j, err := NewJigsaw(
		encodePNG(t, puzzle),
		encodePNG(t, piece),
		image.Rect(0, 0, spriteSize, spriteSize),
		topHint,
	)
	if err != nil {
		t.Fatalf("new jigsaw: %v", err)
	}
	return j
}

func TestJigsawFindsNotch(t *testing.T) {
	j := newSyntheticJigsaw(t)
	left, err := j.Left()
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	want := notchX - piecePad
	if left < want-2 || left > want+2 {
		t.Fatalf("left = %d, want %d (±2)", left, want)
	}
}

func TestJigsawDeterministic(t *testing.T) {
	j := newSyntheticJigsaw(t)
	first, err := j.Left()
	if err != nil {
		t.Fatalf("first solve: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := j.Left()
		if err != nil {
			t.Fatalf("solve #%d: %v", i+2, err)
		}
		if again != first {
			t.Fatalf("solve #%d = %d, first = %d", i+2, again, first)
		}
	}
}

func TestPieceSpriteRejectsEmptyMask(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	if _, err := newPieceSprite(img); err == nil {
		t.Fatal("expected error for fully transparent sprite")
	} else if TypeOf(err) != ParseError {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func TestImitateDragMonotonic(t *testing.T) {
	pts := imitateDrag(8, 96, 40)
	if len(pts) < 50 {
		t.Fatalf("too few points: %d", len(pts))
	}
	if pts[0][0] != 8 || pts[len(pts)-1][0] != 96 {
		t.Fatalf("endpoints wrong: %v .. %v", pts[0], pts[len(pts)-1])
	}
	prev := pts[0][0]
	for i, p := range pts {
		if p[0] < prev {
			t.Fatalf("x regressed at %d: %d < %d", i, p[0], prev)
		}
		if p[1] < 39 || p[1] > 41 {
			t.Fatalf("y strayed at %d: %d", i, p[1])
		}
		prev = p[0]
	}
}
