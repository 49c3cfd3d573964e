package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cookclip/internal/process"
)

// FrameEnhanceFilter sharpens edges and lifts contrast so overlaid captions
// survive OCR better.
const FrameEnhanceFilter = "unsharp=5:5:1.0:5:5:0.0,eq=contrast=1.3:brightness=0.03"

// EncodeRequest describes a bitrate-targeted re-encode.
type EncodeRequest struct {
	Input        string
	Output       string
	Profile      Profile
	VideoKbps    int
	SourceWidth  int
	SourceHeight int
}

// Transcoder runs ffmpeg jobs through a process runner.
type Transcoder struct {
	Runner process.Runner
	Binary string
	Logger *slog.Logger
}

func (t *Transcoder) binary() string {
	if t.Binary == "" {
		return "ffmpeg"
	}
	return t.Binary
}

func (t *Transcoder) runner() process.Runner {
	if t.Runner == nil {
		return process.ExecRunner{}
	}
	return t.Runner
}

func (t *Transcoder) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// Encode re-encodes a video under the given timeout.
func (t *Transcoder) Encode(ctx context.Context, req EncodeRequest, timeout time.Duration) error {
	if req.Input == "" || req.Output == "" {
		return errors.New("ffmpeg encode: input and output are required")
	}
	if req.VideoKbps <= 0 {
		return errors.New("ffmpeg encode: video bitrate must be positive")
	}
	args := BuildEncodeArgs(req)
	t.logger().Debug("ffmpeg encode",
		slog.String("profile", req.Profile.Name),
		slog.Int("video_kbps", req.VideoKbps),
		slog.String("output", req.Output),
	)
	if _, err := t.runner().Run(ctx, process.Command{Binary: t.binary(), Args: args, Timeout: timeout}); err != nil {
		return fmt.Errorf("ffmpeg encode (%s): %w", req.Profile.Name, err)
	}
	return nil
}

// BuildEncodeArgs assembles the ffmpeg argument list for req.
func BuildEncodeArgs(req EncodeRequest) []string {
	p := req.Profile
	kbps := req.VideoKbps
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", req.Input}
	if filter := ScaleFilter(req.SourceWidth, req.SourceHeight, p.MaxLongEdge, p.MaxShortEdge); filter != "" {
		args = append(args, "-vf", filter)
	}
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.EncoderPreset != "" {
		args = append(args, "-preset", p.EncoderPreset)
	}
	args = append(args,
		"-b:v", strconv.Itoa(kbps)+"k",
		"-maxrate", strconv.Itoa(kbps*12/10)+"k",
		"-bufsize", strconv.Itoa(kbps*2)+"k",
	)
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
	}
	if p.AudioCodec != "" {
		args = append(args, "-c:a", p.AudioCodec)
	}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	args = append(args, p.ExtraArgs...)
	return append(args, req.Output)
}

// boundingBox orients the long/short caps to match the source orientation.
func boundingBox(width, height, maxLong, maxShort int) (int, int) {
	if height > width {
		return maxShort, maxLong
	}
	return maxLong, maxShort
}

// ScaleFilter returns a downscale filter when the source exceeds the box,
// or "" when it already fits. It never upscales.
func ScaleFilter(width, height, maxLong, maxShort int) string {
	if width <= 0 || height <= 0 || maxLong <= 0 || maxShort <= 0 {
		return ""
	}
	boxW, boxH := boundingBox(width, height, maxLong, maxShort)
	if width <= boxW && height <= boxH {
		return ""
	}
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2", boxW, boxH)
}

// OutputDimensions predicts the frame size ScaleFilter produces.
func OutputDimensions(width, height, maxLong, maxShort int) (int, int) {
	if ScaleFilter(width, height, maxLong, maxShort) == "" {
		return width, height
	}
	boxW, boxH := boundingBox(width, height, maxLong, maxShort)
	var w, h int
	if width*boxH >= height*boxW {
		w, h = boxW, height*boxW/width
	} else {
		w, h = width*boxH/height, boxH
	}
	w = w / 2 * 2
	h = h / 2 * 2
	return w, h
}

// ExtractFrame grabs a single filtered frame at offset into output.
func (t *Transcoder) ExtractFrame(ctx context.Context, input string, offset time.Duration, output string, timeout time.Duration) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(offset),
		"-i", input,
		"-frames:v", "1",
		"-vf", FrameEnhanceFilter,
		"-q:v", "2",
		output,
	}
	if _, err := t.runner().Run(ctx, process.Command{Binary: t.binary(), Args: args, Timeout: timeout}); err != nil {
		return fmt.Errorf("ffmpeg frame at %s: %w", formatSeconds(offset), err)
	}
	return nil
}

// ExtractAudio writes a mono 16 kHz mp3 suitable for speech-to-text upload.
func (t *Transcoder) ExtractAudio(ctx context.Context, input, output string, timeout time.Duration) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame",
		"-b:a", "64k",
		output,
	}
	if _, err := t.runner().Run(ctx, process.Command{Binary: t.binary(), Args: args, Timeout: timeout}); err != nil {
		if strings.Contains(process.StderrOf(err), "does not contain any stream") {
			return fmt.Errorf("ffmpeg audio: %w", ErrNoAudioStream)
		}
		return fmt.Errorf("ffmpeg audio: %w", err)
	}
	return nil
}

// ErrNoAudioStream is returned when the input has nothing to extract.
var ErrNoAudioStream = errors.New("no audio stream")

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
