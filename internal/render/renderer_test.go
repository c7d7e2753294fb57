package render

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/kapu/dama-arena/internal/board"
)

func TestRenderPNGInitialPosition(t *testing.T) {
	r := NewBoardRenderer()
	data, err := r.RenderPNG(context.Background(), board.Initial(), RenderOptions{})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	want := squareSize*board.Size + sideMargin*2
	if img.Bounds().Dx() != want || img.Bounds().Dy() != want {
		t.Fatalf("image size = %v, want %dx%d", img.Bounds(), want, want)
	}
}

func TestRenderPNGWithHighlight(t *testing.T) {
	r := NewBoardRenderer()
	hl := &MoveHighlight{
		From: board.Cell{Row: 5, Col: 0},
		To:   board.Cell{Row: 4, Col: 1},
	}
	plain, err := r.RenderPNG(context.Background(), board.Initial(), RenderOptions{})
	if err != nil {
		t.Fatalf("plain render: %v", err)
	}
	marked, err := r.RenderPNG(context.Background(), board.Initial(), RenderOptions{Highlight: hl})
	if err != nil {
		t.Fatalf("highlighted render: %v", err)
	}
	if bytes.Equal(plain, marked) {
		t.Fatal("highlight produced an identical image")
	}
}

func TestRenderPNGHonorsCancelledContext(t *testing.T) {
	r := NewBoardRenderer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.RenderPNG(ctx, board.Initial(), RenderOptions{}); err == nil {
		t.Fatal("cancelled context accepted")
	}
}
