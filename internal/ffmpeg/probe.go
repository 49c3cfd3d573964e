package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cookclip/internal/process"
)

// ErrNoVideoStreams is returned when a container carries no video stream.
var ErrNoVideoStreams = errors.New("ffprobe: no video streams")

// VideoStream summarises one video stream.
type VideoStream struct {
	Index       int
	Codec       string
	Width       int
	Height      int
	PixelFormat string
	FrameRate   float64
}

// AudioStream summarises one audio stream.
type AudioStream struct {
	Index      int
	Codec      string
	Channels   int
	SampleRate int
}

// ProbeResult is the subset of ffprobe output the pipeline relies on.
type ProbeResult struct {
	FormatName   string
	Duration     time.Duration
	SizeBytes    int64
	BitRate      int64
	VideoStreams []VideoStream
	AudioStreams []AudioStream
}

// Primary returns the first video stream.
func (r ProbeResult) Primary() (VideoStream, bool) {
	if len(r.VideoStreams) == 0 {
		return VideoStream{}, false
	}
	return r.VideoStreams[0], true
}

// HasAudio reports whether an audio stream is present.
func (r ProbeResult) HasAudio() bool {
	return len(r.AudioStreams) > 0
}

// Prober inspects media files.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// LocalProber shells out to ffprobe.
type LocalProber struct {
	Runner  process.Runner
	Binary  string
	Timeout time.Duration
}

// Probe runs ffprobe with JSON output and parses it.
func (p *LocalProber) Probe(ctx context.Context, path string) (ProbeResult, error) {
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, errors.New("ffprobe: path is required")
	}
	runner := p.Runner
	if runner == nil {
		runner = process.ExecRunner{}
	}
	binary := p.Binary
	if binary == "" {
		binary = "ffprobe"
	}
	res, err := runner.Run(ctx, process.Command{
		Binary: binary,
		Args: []string{
			"-v", "error",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		},
		Timeout: p.Timeout,
	})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbeOutput(res.Stdout)
}

type probePayload struct {
	Streams []struct {
		Index        int    `json:"index"`
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		PixFmt       string `json:"pix_fmt"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Channels     int    `json:"channels"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (ProbeResult, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := ProbeResult{
		FormatName: payload.Format.FormatName,
		SizeBytes:  parseInt(payload.Format.Size),
		BitRate:    parseInt(payload.Format.BitRate),
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64); err == nil && secs > 0 {
		result.Duration = time.Duration(secs * float64(time.Second))
	}

	for _, s := range payload.Streams {
		switch s.CodecType {
		case "video":
			result.VideoStreams = append(result.VideoStreams, VideoStream{
				Index:       s.Index,
				Codec:       s.CodecName,
				Width:       s.Width,
				Height:      s.Height,
				PixelFormat: s.PixFmt,
				FrameRate:   parseRational(s.AvgFrameRate),
			})
		case "audio":
			result.AudioStreams = append(result.AudioStreams, AudioStream{
				Index:      s.Index,
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: int(parseInt(s.SampleRate)),
			})
		}
	}

	if len(result.VideoStreams) == 0 {
		return result, ErrNoVideoStreams
	}
	return result, nil
}

func parseRational(raw string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(raw), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseInt(raw string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
