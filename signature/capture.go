// Package signature turns freehand pointer strokes into a PNG signature image.
package signature

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/utils"
	"github.com/sirupsen/logrus"
)

const MimeTypePNG = "image/png"

// Sample is one pointer position. TimestampMs is informational; strokes keep arrival order.
type Sample struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	TimestampMs int64   `json:"t"`
}

type Stroke []Sample

// Artifact is an encoded signature image.
type Artifact struct {
	Data       []byte
	MimeType   string
	Width      int
	Height     int
	CapturedAt time.Time
}

// Surface provides the drawing canvas.
type Surface interface {
	Acquire(width, height int) (*image.NRGBA, error)
}

type imagingSurface struct {
	background color.Color
}

func (s imagingSurface) Acquire(width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("canvas size must be positive")
	}
	return imaging.New(width, height, s.background), nil
}

type Options struct {
	Width       int
	Height      int
	StrokeWidth float64
	Color       color.Color
	Surface     Surface
	// OnChange receives the new artifact, or nil when no signature is present.
	OnChange func(*Artifact)
	// Settings supplies defaults and size limits; nil reads them from env.
	Settings *config.Settings
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Capture records strokes for one signer. It is safe for use from several goroutines.
type Capture struct {
	mu sync.Mutex

	width, height int
	strokeWidth   float64
	ink           color.Color
	surface       Surface
	onChange      func(*Artifact)
	logger        *logrus.Logger
	now           func() time.Time

	strokes    []Stroke
	current    Stroke
	pressed    bool
	artifact   *Artifact
	generation uint64
	degraded   bool
}

// ValidateSize refuses canvas sizes beyond SIGNATURE_MAX_WIDTH x SIGNATURE_MAX_HEIGHT.
// Zero or negative sides mean the configured default and always pass.
func ValidateSize(width, height int, settings config.Settings) error {
	maxWidth, maxHeight := settings.SignatureMaxWidth, settings.SignatureMaxHeight
	if maxWidth <= 0 || maxHeight <= 0 {
		d := config.DefaultSettings()
		maxWidth, maxHeight = d.SignatureMaxWidth, d.SignatureMaxHeight
	}
	if width > maxWidth || height > maxHeight {
		return utils.ValidationError("signature.size", "canvas %dx%d exceeds the %dx%d limit", width, height, maxWidth, maxHeight)
	}
	return nil
}

func optionsSettings(opts Options) config.Settings {
	if opts.Settings != nil {
		return *opts.Settings
	}
	return config.LoadSettings()
}

// New builds a capture from settings-derived options. Zero fields take the configured defaults.
func New(opts Options) *Capture {
	defaults := optionsSettings(opts)
	c := &Capture{
		width:       opts.Width,
		height:      opts.Height,
		strokeWidth: opts.StrokeWidth,
		ink:         opts.Color,
		surface:     opts.Surface,
		onChange:    opts.OnChange,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if c.width <= 0 {
		c.width = defaults.SignatureWidth
	}
	if c.height <= 0 {
		c.height = defaults.SignatureHeight
	}
	if c.strokeWidth <= 0 {
		c.strokeWidth = defaults.SignatureStrokeWidth
	}
	if c.ink == nil {
		c.ink = color.Black
	}
	if c.surface == nil {
		c.surface = imagingSurface{background: color.White}
	}
	if c.logger == nil {
		c.logger = config.GetLogger()
	}
	if c.now == nil {
		c.now = time.Now
	}
	size := map[string]int{"width": c.width, "height": c.height}
	if err := ValidateSize(c.width, c.height, defaults); err != nil {
		c.degraded = true
		config.LogError(c.logger, "capture.go", "New", "ValidateSize", size, err)
		return c
	}
	// The full canvas is only allocated on render.
	if _, err := c.surface.Acquire(1, 1); err != nil {
		c.degraded = true
		config.LogError(c.logger, "capture.go", "New", "Acquire", size, err)
	}
	return c
}

// Degraded reports that no canvas could be acquired; every operation is then a no-op.
func (c *Capture) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// HasSignature is true only once a rendered artifact exists.
func (c *Capture) HasSignature() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.degraded && c.artifact != nil
}

// Artifact returns the last rendered artifact, or nil.
func (c *Capture) Artifact() *Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return nil
	}
	return c.artifact
}

func (c *Capture) clamp(x, y float64) (float64, float64) {
	return math.Min(math.Max(x, 0), float64(c.width)), math.Min(math.Max(y, 0), float64(c.height))
}

// Press starts a new stroke. The press position itself is not a sample.
func (c *Capture) Press(x, y float64, timestampMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return
	}
	if c.pressed && len(c.current) > 0 {
		c.strokes = append(c.strokes, c.current)
	}
	c.pressed = true
	c.current = nil
}

// Move adds a sample to the current stroke. Out-of-bounds samples are clamped.
func (c *Capture) Move(x, y float64, timestampMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded || !c.pressed {
		return
	}
	cx, cy := c.clamp(x, y)
	c.current = append(c.current, Sample{X: cx, Y: cy, TimestampMs: timestampMs})
}

// Release ends the current stroke and renders the signature.
func (c *Capture) Release(ctx context.Context) {
	c.mu.Lock()
	if c.degraded || !c.pressed {
		c.mu.Unlock()
		return
	}
	if len(c.current) > 0 {
		c.strokes = append(c.strokes, c.current)
	}
	c.current = nil
	c.pressed = false
	c.mu.Unlock()

	if _, err := c.Commit(ctx); err != nil {
		config.LogError(c.logger, "capture.go", "Release", "Commit", nil, err)
	}
}

// Clear erases every stroke and reports an absent signature. Calling it again is harmless.
func (c *Capture) Clear() {
	c.mu.Lock()
	if c.degraded {
		c.mu.Unlock()
		return
	}
	c.strokes = nil
	c.current = nil
	c.pressed = false
	c.artifact = nil
	c.generation++
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(nil)
	}
}

// Result is the outcome of an asynchronous commit.
type Result struct {
	Artifact *Artifact
	Err      error
	// Stale is set when strokes changed while rendering; the result was not applied.
	Stale bool
}

// Commit renders all finished strokes now. With no samples recorded it returns nil, nil.
func (c *Capture) Commit(ctx context.Context) (*Artifact, error) {
	res := c.commit(ctx)
	return res.Artifact, res.Err
}

// CommitAsync renders in the background. The result is applied only if no edits happened meanwhile.
func (c *Capture) CommitAsync(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- c.commit(ctx)
		close(out)
	}()
	return out
}

func (c *Capture) commit(ctx context.Context) Result {
	c.mu.Lock()
	if c.degraded {
		c.mu.Unlock()
		return Result{}
	}
	generation := c.generation
	strokes := make([]Stroke, len(c.strokes))
	copy(strokes, c.strokes)
	c.mu.Unlock()

	var artifact *Artifact
	var err error
	if hasSamples(strokes) {
		artifact, err = c.render(ctx, strokes)
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return Result{Artifact: artifact, Err: err, Stale: true}
	}
	if err != nil {
		c.mu.Unlock()
		return Result{Err: err}
	}
	c.artifact = artifact
	c.generation++
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(artifact)
	}
	return Result{Artifact: artifact}
}

func hasSamples(strokes []Stroke) bool {
	for _, s := range strokes {
		if len(s) > 0 {
			return true
		}
	}
	return false
}

func (c *Capture) render(ctx context.Context, strokes []Stroke) (*Artifact, error) {
	canvas, err := c.surface.Acquire(c.width, c.height)
	if err != nil {
		return nil, err
	}
	radius := c.strokeWidth / 2
	for _, stroke := range strokes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range stroke {
			if i == 0 {
				stampDisc(canvas, stroke[0].X, stroke[0].Y, radius, c.ink)
				continue
			}
			drawSegment(canvas, stroke[i-1], stroke[i], radius, c.ink)
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, err
	}
	return &Artifact{
		Data:       buf.Bytes(),
		MimeType:   MimeTypePNG,
		Width:      c.width,
		Height:     c.height,
		CapturedAt: c.now().UTC(),
	}, nil
}

func drawSegment(canvas *image.NRGBA, from, to Sample, radius float64, ink color.Color) {
	dx, dy := to.X-from.X, to.Y-from.Y
	steps := int(math.Ceil(math.Hypot(dx, dy) / 0.5))
	if steps == 0 {
		stampDisc(canvas, to.X, to.Y, radius, ink)
		return
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		stampDisc(canvas, from.X+dx*t, from.Y+dy*t, radius, ink)
	}
}

func stampDisc(canvas *image.NRGBA, cx, cy, radius float64, ink color.Color) {
	if radius < 0.5 {
		radius = 0.5
	}
	bounds := canvas.Bounds()
	x0 := int(math.Floor(cx - radius))
	x1 := int(math.Ceil(cx + radius))
	y0 := int(math.Floor(cy - radius))
	y1 := int(math.Ceil(cy + radius))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if !(image.Point{X: x, Y: y}).In(bounds) {
				continue
			}
			px, py := float64(x)+0.5, float64(y)+0.5
			if math.Hypot(px-cx, py-cy) <= radius+0.5 {
				canvas.Set(x, y, ink)
			}
		}
	}
}
