// Package ocr runs tesseract over extracted frames, scores each result and
// drops near-duplicate captions.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cookclip/internal/logging"
	"cookclip/internal/process"
)

// Config tunes the OCR engine.
type Config struct {
	Binary          string
	Languages       string
	PSMModes        []int
	Timeout         time.Duration
	MinConfidence   float64
	MinLength       int
	DedupeThreshold float64
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		Binary:          "tesseract",
		Languages:       "eng",
		PSMModes:        []int{6, 11, 3},
		Timeout:         15 * time.Second,
		MinConfidence:   30,
		MinLength:       15,
		DedupeThreshold: 0.8,
	}
}

// Result is the best recognition of one frame.
type Result struct {
	Text       string
	Confidence float64
	PSM        int
}

// Engine invokes tesseract.
type Engine struct {
	runner process.Runner
	cfg    Config
	logger logging.Logger
}

// NewEngine fills unset config fields from DefaultConfig.
func NewEngine(runner process.Runner, cfg Config, logger logging.Logger) *Engine {
	def := DefaultConfig()
	if runner == nil {
		runner = process.ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.Languages == "" {
		cfg.Languages = def.Languages
	}
	if len(cfg.PSMModes) == 0 {
		cfg.PSMModes = def.PSMModes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.DedupeThreshold <= 0 {
		cfg.DedupeThreshold = def.DedupeThreshold
	}
	return &Engine{runner: runner, cfg: cfg, logger: logging.OrNop(logger)}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Recognize tries every page-segmentation mode on imagePath and keeps the
// highest-confidence text. It fails only when every mode failed.
func (e *Engine) Recognize(ctx context.Context, imagePath string) (Result, error) {
	var (
		best    Result
		lastErr error
		ok      bool
	)
	for _, psm := range e.cfg.PSMModes {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		res, err := e.runner.Run(ctx, process.Command{
			Binary:  e.cfg.Binary,
			Args:    []string{imagePath, "stdout", "-l", e.cfg.Languages, "--psm", strconv.Itoa(psm)},
			Timeout: e.cfg.Timeout,
		})
		if err != nil {
			lastErr = err
			e.logger.Debug("tesseract psm %d on %s failed: %v", psm, imagePath, err)
			continue
		}
		text := CleanText(string(res.Stdout))
		conf := Confidence(text)
		if !ok || conf > best.Confidence {
			best = Result{Text: text, Confidence: conf, PSM: psm}
			ok = true
		}
	}
	if !ok {
		if lastErr == nil {
			lastErr = errors.New("no segmentation modes configured")
		}
		return Result{}, fmt.Errorf("ocr %s: %w", imagePath, lastErr)
	}
	return best, nil
}

// Accept applies the confidence and length floors.
func (e *Engine) Accept(r Result) bool {
	return r.Confidence >= e.cfg.MinConfidence && len([]rune(strings.TrimSpace(r.Text))) >= e.cfg.MinLength
}

// NewDeduper returns a deduper using the configured threshold.
func (e *Engine) NewDeduper() *Deduper {
	return NewDeduper(e.cfg.DedupeThreshold)
}

// Deduper keeps texts that are not near-duplicates of anything kept before.
type Deduper struct {
	threshold float64
	sets      []map[string]struct{}
	texts     []string
}

// NewDeduper creates a deduper; similarity above threshold is a duplicate.
func NewDeduper(threshold float64) *Deduper {
	return &Deduper{threshold: threshold}
}

// Add keeps text unless it is a near-duplicate. It reports whether text was kept.
func (d *Deduper) Add(text string) bool {
	set := tokenSet(text)
	for _, prev := range d.sets {
		if jaccardSets(set, prev) > d.threshold {
			return false
		}
	}
	d.sets = append(d.sets, set)
	d.texts = append(d.texts, text)
	return true
}

// Texts returns kept texts in insertion order.
func (d *Deduper) Texts() []string {
	return append([]string(nil), d.texts...)
}
