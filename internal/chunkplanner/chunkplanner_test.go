package chunkplanner

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"transkriptor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeBinary writes an executable shell script standing in for
// ffprobe/ffmpeg so these tests never shell out to the real tools.
func writeFakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

// fakeProbe reports a fixed duration regardless of its arguments.
func fakeProbe(t *testing.T, dir string, durationSec float64) string {
	script := fmt.Sprintf(`cat <<EOF
{"format": {"duration": "%g"}}
EOF
`, durationSec)
	return writeFakeBinary(t, dir, "ffprobe", script)
}

// fakeRender writes a tiny placeholder file at the final "-o"-style
// positional output argument (ffmpeg always takes the output path last).
func fakeRender(t *testing.T, dir string) string {
	script := `for arg in "$@"; do out="$arg"; done
printf 'RIFF....WAVEfmt ' > "$out"
`
	return writeFakeBinary(t, dir, "ffmpeg", script)
}

func TestPlanAndRender_ProducesContiguousOverlappingWindows(t *testing.T) {
	bin := t.TempDir()
	out := t.TempDir()
	source := filepath.Join(t.TempDir(), "source.wav")
	require.NoError(t, os.WriteFile(source, []byte("fake source"), 0644))

	p := New(fakeRender(t, bin), fakeProbe(t, bin, 500))

	duration, plans, err := p.PlanAndRender(source, out, 240, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 500.0, duration)
	require.NotEmpty(t, plans)

	step := 240.0 - 1.5
	for i, plan := range plans {
		assert.Equal(t, i, plan.Idx)
		assert.Less(t, plan.StartSec, plan.EndSec)
		assert.LessOrEqual(t, plan.EndSec, duration)
		assert.NotEmpty(t, plan.SHA256)
		if i > 0 {
			assert.InDelta(t, step, plan.StartSec-plans[i-1].StartSec, 1e-6)
		}
	}
	assert.InDelta(t, duration, plans[len(plans)-1].EndSec, 1e-6)
}

func TestProbeDuration_FailsOnNonZeroExit(t *testing.T) {
	bin := t.TempDir()
	probe := writeFakeBinary(t, bin, "ffprobe", "exit 1\n")
	p := New("ffmpeg", probe)

	_, err := p.ProbeDuration("whatever.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProbeFailed)
}

func TestProbeDuration_FailsOnNonPositiveDuration(t *testing.T) {
	bin := t.TempDir()
	probe := fakeProbe(t, bin, 0)
	p := New("ffmpeg", probe)

	_, err := p.ProbeDuration("whatever.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProbeFailed)
}

func TestHashFile_IsDeterministicForIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0644))

	hashA, err := HashFile(a)
	require.NoError(t, err)
	hashB, err := HashFile(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)

	require.NoError(t, os.WriteFile(b, []byte("different bytes"), 0644))
	hashB2, err := HashFile(b)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB2)
}
