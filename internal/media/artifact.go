package media

import "time"

// MB is the byte size used for every size budget in the pipeline.
const MB = 1024 * 1024

// Artifact describes a media file on disk together with its probed shape.
type Artifact struct {
	Path      string
	SizeBytes int64
	Duration  time.Duration
	Width     int
	Height    int
	Codec     string
	HasAudio  bool
}

// SizeMB returns the artifact size in MB.
func (a Artifact) SizeMB() float64 {
	return float64(a.SizeBytes) / MB
}
