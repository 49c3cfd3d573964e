package fusion

import (
	"fmt"
	"time"

	"cookclip/internal/fetch"
)

// Strategy names how densely frames are sampled for OCR.
type Strategy string

const (
	StrategySkip          Strategy = "skip"
	StrategyDense         Strategy = "dense_sampling"
	StrategyComprehensive Strategy = "comprehensive_sampling"
	StrategySelective     Strategy = "selective_sampling"
	StrategyStandard      Strategy = "standard_sampling"
)

// Decision thresholds.
const (
	SkipQualityThreshold = 85
	SkipLengthThreshold  = 800
	ShortVideoDuration   = 60 * time.Second
	lowQuality           = 30
	moderateQuality      = 50
)

// VideoInfo is what the decision needs to know about the video.
type VideoInfo struct {
	Duration  time.Duration
	Platform  fetch.Platform
	ShortForm bool
}

// Decision is the one-time OCR-necessity verdict for a request.
type Decision struct {
	ShouldRun        bool          `json:"should_run"`
	Strategy         Strategy      `json:"strategy"`
	Interval         time.Duration `json:"interval"`
	MaxFrames        int           `json:"max_frames"`
	TranscriptScore  float64       `json:"transcript_score"`
	DescriptionScore float64       `json:"description_score"`
	Reason           string        `json:"reason"`
}

// Decide is a pure function of its inputs.
func Decide(transcript, description string, info VideoInfo) Decision {
	return decide(QualityScore(transcript), QualityScore(description), len([]rune(transcript)), info)
}

func decide(transcriptScore, descriptionScore float64, transcriptLen int, info VideoInfo) Decision {
	d := Decision{TranscriptScore: transcriptScore, DescriptionScore: descriptionScore}

	if transcriptScore >= SkipQualityThreshold && transcriptLen > SkipLengthThreshold {
		d.Strategy = StrategySkip
		d.Reason = fmt.Sprintf("transcript quality %.0f over %d chars is sufficient", transcriptScore, transcriptLen)
		return d
	}

	d.ShouldRun = true
	switch {
	case isShortVideo(info):
		d.Strategy, d.Interval, d.MaxFrames = StrategyDense, 2*time.Second, 30
		d.Reason = "short-form video"
	case transcriptScore < lowQuality && descriptionScore < lowQuality:
		d.Strategy, d.Interval, d.MaxFrames = StrategyComprehensive, 3*time.Second, 25
		d.Reason = "transcript and description both weak"
	case transcriptScore < moderateQuality || descriptionScore < moderateQuality:
		d.Strategy, d.Interval, d.MaxFrames = StrategySelective, 4*time.Second, 20
		d.Reason = "one text source is weak"
	default:
		d.Strategy, d.Interval, d.MaxFrames = StrategyStandard, 5*time.Second, 15
		d.Reason = "text sources are reasonable"
	}
	return d
}

// isShortVideo holds for short-form platform formats regardless of length,
// and for any video no longer than ShortVideoDuration.
func isShortVideo(info VideoInfo) bool {
	return info.ShortForm || (info.Duration > 0 && info.Duration <= ShortVideoDuration)
}

// Timestamps spreads at most maxFrames offsets evenly across the video,
// skipping five seconds at each end. Videos too short for that margin use
// ten percent of their length instead.
func Timestamps(duration, interval time.Duration, maxFrames int) []time.Duration {
	if duration <= 0 || maxFrames <= 0 {
		return nil
	}
	margin := 5 * time.Second
	if duration <= 2*margin+time.Second {
		margin = duration / 10
	}
	start, end := margin, duration-margin
	span := end - start
	if span <= 0 {
		return []time.Duration{duration / 2}
	}

	count := maxFrames
	if interval > 0 {
		if n := int(span/interval) + 1; n < count {
			count = n
		}
	}
	if count <= 1 {
		return []time.Duration{start + span/2}
	}
	out := make([]time.Duration, count)
	for i := range out {
		out[i] = start + span*time.Duration(i)/time.Duration(count-1)
	}
	return out
}
