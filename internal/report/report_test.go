package report

import (
	"bytes"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/ayusman/lanefinder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func sampleFrames() []*store.FrameResult {
	return []*store.FrameResult{
		{FrameIndex: 0},
		{FrameIndex: 1, OffsetM: ptr(0.2), Left: store.SideResult{RadiusM: ptr(800)}, Right: store.SideResult{RadiusM: ptr(1200)}},
		{FrameIndex: 2, OffsetM: ptr(-0.1), SceneCut: true},
		{FrameIndex: 3, OffsetM: ptr(0.5), Left: store.SideResult{RadiusM: ptr(50000)}},
	}
}

func TestRadius(t *testing.T) {
	frames := sampleFrames()

	_, ok := Radius(frames[0])
	assert.False(t, ok, "frame without geometry has no radius")

	r, ok := Radius(frames[1])
	require.True(t, ok)
	assert.InDelta(t, 1000, r, 1e-9)

	r, ok = Radius(frames[2])
	require.True(t, ok)
	assert.Equal(t, MaxRadius, r, "straight lane plots at the cap")

	r, ok = Radius(frames[3])
	require.True(t, ok)
	assert.Equal(t, MaxRadius, r)
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleFrames())

	assert.Equal(t, 4, s.Frames)
	assert.Equal(t, 3, s.Detected)
	assert.Equal(t, 1, s.SceneCuts)
	assert.InDelta(t, 0.2, s.MeanOffsetM, 1e-9)
	assert.InDelta(t, 0.5, s.MaxAbsOffsetM, 1e-9)
	assert.InDelta(t, 0.75, s.DetectionRatio, 1e-9)
	assert.InDelta(t, MaxRadius, s.MedianRadiusM, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestRender_WritesPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "clip", sampleFrames()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
	assert.Greater(t, img.Bounds().Dy(), img.Bounds().Dx()/2)
}

func TestRender_NoFrames(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Render(&buf, "clip", nil), ErrNoFrames)
}

func TestRender_NoDetections(t *testing.T) {
	var buf bytes.Buffer
	frames := []*store.FrameResult{{FrameIndex: 0}, {FrameIndex: 1}}
	assert.NoError(t, Render(&buf, "clip", frames))
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "session.png")
	require.NoError(t, Save(path, "clip", sampleFrames()))
	assert.FileExists(t, path)
}
