package ffmpeg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleFilterNeverUpscales(t *testing.T) {
	assert.Empty(t, ScaleFilter(640, 360, 1280, 720))
	assert.Empty(t, ScaleFilter(720, 1280, 1280, 720))
	assert.Empty(t, ScaleFilter(0, 0, 1280, 720))
	assert.Contains(t, ScaleFilter(1920, 1080, 1280, 720), "scale=w=1280:h=720")
	assert.Contains(t, ScaleFilter(1080, 1920, 1280, 720), "scale=w=720:h=1280")
}

func TestOutputDimensionsAggressiveBox(t *testing.T) {
	aggressive := DefaultProfiles()[ProfileAggressive]
	w, h := OutputDimensions(1920, 1080, aggressive.MaxLongEdge, aggressive.MaxShortEdge)
	assert.LessOrEqual(t, w, 640)
	assert.LessOrEqual(t, h, 360)
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	w, h = OutputDimensions(320, 240, aggressive.MaxLongEdge, aggressive.MaxShortEdge)
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)
}

func TestBuildEncodeArgs(t *testing.T) {
	args := BuildEncodeArgs(EncodeRequest{
		Input:        "in.mp4",
		Output:       "out.mp4",
		Profile:      DefaultProfiles()[ProfileStandard],
		VideoKbps:    5529,
		SourceWidth:  1920,
		SourceHeight: 1080,
	})
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-b:v 5529k")
	assert.Contains(t, joined, "-maxrate 6634k")
	assert.Contains(t, joined, "-preset fast")
	assert.Contains(t, joined, "-b:a 128k")
	assert.Equal(t, "out.mp4", args[len(args)-1])
}

func TestLoadProfileFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`profiles:
  aggressive:
    encoder_preset: veryslow
    audio_bitrate: 48k
  tiny:
    video_codec: libx264
    max_long_edge: 426
    max_short_edge: 240
    safety_factor: 0.7
`), 0o644))

	lib, err := LoadProfileFile(path)
	require.NoError(t, err)

	aggressive, ok := lib.Get(ProfileAggressive)
	require.True(t, ok)
	assert.Equal(t, "veryslow", aggressive.EncoderPreset)
	assert.Equal(t, "48k", aggressive.AudioBitrate)
	assert.Equal(t, 640, aggressive.MaxLongEdge)

	tiny, ok := lib.Get("tiny")
	require.True(t, ok)
	assert.Equal(t, "tiny", tiny.Name)
	assert.Equal(t, []string{"aggressive", "standard", "tiny"}, lib.Names())
}

func TestLoadProfileFileRejectsBadSafetyFactor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  standard:\n    safety_factor: 1.5\n"), 0o644))
	_, err := LoadProfileFile(path)
	require.Error(t, err)
}
