package signature

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/utils"
)

type brokenSurface struct{}

func (brokenSurface) Acquire(int, int) (*image.NRGBA, error) {
	return nil, errors.New("no drawing context")
}

// sizingSurface records every canvas size it hands out.
type sizingSurface struct {
	sizes [][2]int
}

func (s *sizingSurface) Acquire(width, height int) (*image.NRGBA, error) {
	s.sizes = append(s.sizes, [2]int{width, height})
	return imaging.New(width, height, color.White), nil
}

type recorder struct {
	calls []*Artifact
}

func (r *recorder) onChange(a *Artifact) {
	r.calls = append(r.calls, a)
}

func newTestCapture(r *recorder) *Capture {
	fixed := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	return New(Options{Width: 40, Height: 20, StrokeWidth: 2, OnChange: r.onChange, Now: func() time.Time { return fixed }})
}

func TestStrokeProducesArtifact(t *testing.T) {
	r := &recorder{}
	c := newTestCapture(r)
	ctx := context.Background()

	c.Press(5, 5, 0)
	c.Move(5, 5, 10)
	c.Move(30, 10, 20)
	c.Release(ctx)

	if !c.HasSignature() {
		t.Fatalf("expected signature after a drawn stroke")
	}
	if len(r.calls) != 1 || r.calls[0] == nil {
		t.Fatalf("expected one callback with an artifact, got %v", r.calls)
	}
	a := r.calls[0]
	if a.MimeType != MimeTypePNG || a.Width != 40 || a.Height != 20 {
		t.Fatalf("unexpected artifact metadata %+v", a)
	}
	if !a.CapturedAt.Equal(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("capturedAt = %v", a.CapturedAt)
	}
	img, err := imaging.Decode(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if isWhite(img.At(15, 7)) {
		t.Fatalf("expected ink along the stroke")
	}
	if !isWhite(img.At(2, 18)) {
		t.Fatalf("expected blank background away from the stroke")
	}
}

func TestTapWithoutDragIsAbsent(t *testing.T) {
	r := &recorder{}
	c := newTestCapture(r)

	c.Press(10, 10, 0)
	c.Release(context.Background())

	if c.HasSignature() {
		t.Fatalf("a tap must not count as a signature")
	}
	if len(r.calls) != 1 || r.calls[0] != nil {
		t.Fatalf("expected absent callback, got %v", r.calls)
	}
}

func TestOutOfBoundsSamplesAreClamped(t *testing.T) {
	c := newTestCapture(&recorder{})
	c.Press(0, 0, 0)
	c.Move(-50, 10, 1)
	c.Move(500, 300, 2)
	c.Move(20, 10, 3)

	c.mu.Lock()
	samples := append(Stroke(nil), c.current...)
	c.mu.Unlock()
	if len(samples) != 3 {
		t.Fatalf("samples must never be dropped, got %d", len(samples))
	}
	if samples[0].X != 0 || samples[1].X != 40 || samples[1].Y != 20 {
		t.Fatalf("unexpected clamping %v", samples)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	r := &recorder{}
	c := newTestCapture(r)
	c.Press(1, 1, 0)
	c.Move(10, 10, 1)
	c.Release(context.Background())

	c.Clear()
	c.Clear()

	if c.HasSignature() {
		t.Fatalf("expected no signature after clear")
	}
	if len(r.calls) != 3 || r.calls[1] != nil || r.calls[2] != nil {
		t.Fatalf("expected two absent callbacks after clear, got %v", r.calls)
	}
}

func TestDegradedSurfaceIsNoop(t *testing.T) {
	r := &recorder{}
	c := New(Options{Surface: brokenSurface{}, OnChange: r.onChange})
	if !c.Degraded() {
		t.Fatalf("expected degraded capture")
	}
	c.Press(1, 1, 0)
	c.Move(10, 10, 1)
	c.Release(context.Background())
	c.Clear()
	if c.HasSignature() || len(r.calls) != 0 {
		t.Fatalf("degraded capture must not signal, got %v", r.calls)
	}
	a, err := c.Commit(context.Background())
	if a != nil || err != nil {
		t.Fatalf("degraded commit should be a silent no-op, got %v %v", a, err)
	}
}

func TestOversizeCanvasIsRefused(t *testing.T) {
	settings := config.DefaultSettings()
	if err := ValidateSize(8000, 8000, settings); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := ValidateSize(0, 0, settings); err != nil {
		t.Fatalf("default size must pass: %v", err)
	}
	if err := ValidateSize(settings.SignatureMaxWidth, settings.SignatureMaxHeight, settings); err != nil {
		t.Fatalf("the limit itself is allowed: %v", err)
	}

	surface := &sizingSurface{}
	c := New(Options{Width: 8000, Height: 8000, Surface: surface, Settings: &settings})
	if !c.Degraded() {
		t.Fatalf("oversize capture must be degraded")
	}
	if len(surface.sizes) != 0 {
		t.Fatalf("no canvas may be acquired for an oversize request, got %v", surface.sizes)
	}
}

func TestNewDoesNotAllocateFullCanvas(t *testing.T) {
	surface := &sizingSurface{}
	c := New(Options{Width: 400, Height: 200, Surface: surface})
	if c.Degraded() {
		t.Fatalf("capture should be usable")
	}
	if len(surface.sizes) != 1 || surface.sizes[0] != [2]int{1, 1} {
		t.Fatalf("availability check must use a 1x1 canvas, got %v", surface.sizes)
	}
	if _, err := c.Replay(context.Background(), []Event{
		{Type: EventPress, Sample: Sample{X: 2, Y: 2}},
		{Type: EventMove, Sample: Sample{X: 30, Y: 20}},
		{Type: EventRelease},
	}); err != nil {
		t.Fatal(err)
	}
	if last := surface.sizes[len(surface.sizes)-1]; last != [2]int{400, 200} {
		t.Fatalf("render must use the full canvas, got %v", last)
	}
}

func TestCommitAsyncDiscardsStaleResult(t *testing.T) {
	r := &recorder{}
	c := newTestCapture(r)
	c.Press(1, 1, 0)
	c.Move(10, 10, 1)
	c.mu.Lock()
	c.strokes = append(c.strokes, c.current)
	c.current = nil
	c.pressed = false
	c.mu.Unlock()

	done := c.CommitAsync(context.Background())
	c.Clear()
	res := <-done

	if res.Stale {
		if c.HasSignature() {
			t.Fatalf("stale result must not be applied")
		}
		return
	}
	// the render finished before Clear; Clear must still win
	if c.HasSignature() {
		t.Fatalf("clear after commit must leave no signature")
	}
}

func TestReplay(t *testing.T) {
	c := newTestCapture(&recorder{})
	events := []Event{
		{Type: EventPress, Sample: Sample{X: 2, Y: 2}},
		{Type: EventMove, Sample: Sample{X: 3, Y: 4, TimestampMs: 5}},
		{Type: EventMove, Sample: Sample{X: 20, Y: 8, TimestampMs: 9}},
		{Type: EventRelease},
		{Type: EventPress, Sample: Sample{X: 25, Y: 2}},
		{Type: EventMove, Sample: Sample{X: 30, Y: 15, TimestampMs: 20}},
	}
	a, err := c.Replay(context.Background(), events)
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || len(a.Data) == 0 {
		t.Fatalf("expected artifact from replay")
	}
	c.mu.Lock()
	n := len(c.strokes)
	c.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected 2 strokes, got %d", n)
	}

	if _, err := c.Replay(context.Background(), []Event{{Type: "wiggle"}}); err == nil {
		t.Fatalf("expected error for unknown event type")
	}
}

func isWhite(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0xffff && g == 0xffff && b == 0xffff
}
