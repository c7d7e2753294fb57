package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kapu/dama-arena/internal/board"
)

// MoveHighlight marks the last half-move on the rendered board.
type MoveHighlight struct {
	From board.Cell
	To   board.Cell
}

type RenderOptions struct {
	Highlight *MoveHighlight
}

// BoardRenderer produces a PNG of a position for clients that want an
// image instead of the structured view.
type BoardRenderer interface {
	RenderPNG(ctx context.Context, b board.Board, opts RenderOptions) ([]byte, error)
}

type svgBoardRenderer struct{}

func NewBoardRenderer() BoardRenderer {
	return &svgBoardRenderer{}
}

const (
	squareSize = 72
	sideMargin = 28
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{151, 106, 74, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backdrop       = color.RGBA{38, 30, 24, 255}
	coordinateText = color.NRGBA{R: 220, G: 208, B: 186, A: 255}
)

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, b board.Board, opts RenderOptions) ([]byte, error) {
	boardPixels := squareSize * board.Size
	total := boardPixels + sideMargin*2
	origin := image.Point{X: sideMargin, Y: sideMargin}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backdrop), image.Point{}, imagedraw.Src)

	drawSquares(img, origin)
	if opts.Highlight != nil {
		drawCellOverlay(img, opts.Highlight.From, origin)
		drawCellOverlay(img, opts.Highlight.To, origin)
	}
	if err := drawPieces(img, b, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellRect(c board.Cell, origin image.Point) image.Rectangle {
	x := origin.X + c.Col*squareSize
	y := origin.Y + c.Row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			rect := cellRect(board.Cell{Row: row, Col: col}, origin)
			imagedraw.Draw(dst, rect, image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawCellOverlay(img *image.RGBA, c board.Cell, origin image.Point) {
	if c.Row < 0 || c.Row >= board.Size || c.Col < 0 || c.Col >= board.Size {
		return
	}
	rect := cellRect(c, origin)
	imagedraw.Draw(img, rect, image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
}

func drawPieces(dst imagedraw.Image, b board.Board, origin image.Point) error {
	cells := b.Cells()
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			p := cells[row][col]
			if p.Empty() {
				continue
			}
			img, err := renderPieceImage(p, squareSize)
			if err != nil {
				return err
			}
			rect := cellRect(board.Cell{Row: row, Col: col}, origin)
			imagedraw.Draw(dst, rect, img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

// drawCoordinates labels rows on the left margin and columns on the
// bottom one, matching the row/col addressing used in move requests.
func drawCoordinates(img *image.RGBA, origin image.Point) {
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(coordinateText),
	}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	boardEndY := origin.Y + board.Size*squareSize

	for row := 0; row < board.Size; row++ {
		label := strconv.Itoa(row)
		centerY := origin.Y + row*squareSize + squareSize/2
		drawCenteredText(drawer, label, origin.X-sideMargin/2, centerY+ascent/2)
	}
	for col := 0; col < board.Size; col++ {
		label := strconv.Itoa(col)
		centerX := origin.X + col*squareSize + squareSize/2
		drawCenteredText(drawer, label, centerX, boardEndY+ascent+4)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}
