package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/singleflight"

	"cookclip/internal/logging"
	"cookclip/internal/process"
)

// Metadata describes a remote video before any bytes are downloaded.
type Metadata struct {
	URL             string        `json:"url"`
	Platform        Platform      `json:"platform"`
	ID              string        `json:"id,omitempty"`
	Title           string        `json:"title"`
	Uploader        string        `json:"uploader,omitempty"`
	Description     string        `json:"description,omitempty"`
	Duration        time.Duration `json:"duration"`
	Thumbnail       string        `json:"thumbnail,omitempty"`
	ApproxSizeBytes int64         `json:"approx_size_bytes,omitempty"`
	ShortForm       bool          `json:"short_form"`
	// Placeholder is set when neither yt-dlp nor the page HTML yielded data.
	Placeholder bool   `json:"placeholder"`
	Source      string `json:"source"`
}

// Sources for Metadata.Source.
const (
	SourceYTDLP       = "yt-dlp"
	SourceHTML        = "html"
	SourcePlaceholder = "placeholder"
)

// Config configures the yt-dlp client.
type Config struct {
	Binary          string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	HTMLTimeout     time.Duration
}

// Client drives yt-dlp.
type Client struct {
	runner   process.Runner
	cfg      Config
	profiles *ProfileSet
	http     *http.Client
	logger   logging.Logger
	probes   singleflight.Group
}

// NewClient wires a yt-dlp client. A nil profile set uses DefaultProfiles.
func NewClient(runner process.Runner, cfg Config, profiles *ProfileSet, httpClient *http.Client, logger logging.Logger) *Client {
	if runner == nil {
		runner = process.ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	if cfg.HTMLTimeout <= 0 {
		cfg.HTMLTimeout = 10 * time.Second
	}
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		runner:   runner,
		cfg:      cfg,
		profiles: profiles,
		http:     httpClient,
		logger:   logging.OrNop(logger),
	}
}

// Profiles exposes the profile ladders.
func (c *Client) Profiles() *ProfileSet {
	return c.profiles
}

// Probe fetches remote metadata. It never fails: when yt-dlp and the page
// HTML both fail it returns a placeholder record. Concurrent probes of the
// same URL share one call.
func (c *Client) Probe(ctx context.Context, rawURL string) Metadata {
	v, _, _ := c.probes.Do(NormalizeURL(rawURL), func() (any, error) {
		return c.probe(ctx, rawURL), nil
	})
	return v.(Metadata)
}

func (c *Client) probe(ctx context.Context, rawURL string) Metadata {
	platform := DetectPlatform(rawURL)
	base := Metadata{URL: rawURL, Platform: platform, ShortForm: IsShortForm(rawURL)}

	md, err := c.probeYTDLP(ctx, rawURL, base)
	if err == nil {
		return md
	}
	c.logger.Warn("yt-dlp metadata probe failed for %s: %v", rawURL, err)

	md, err = c.probeHTML(ctx, rawURL, base)
	if err == nil {
		return md
	}
	c.logger.Warn("html metadata fallback failed for %s: %v", rawURL, err)

	base.Title = "video"
	base.Placeholder = true
	base.Source = SourcePlaceholder
	return base
}

type ytdlpInfo struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Uploader       string  `json:"uploader"`
	Channel        string  `json:"channel"`
	Description    string  `json:"description"`
	Duration       float64 `json:"duration"`
	Thumbnail      string  `json:"thumbnail"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

func (c *Client) probeYTDLP(ctx context.Context, rawURL string, base Metadata) (Metadata, error) {
	res, err := c.runner.Run(ctx, process.Command{
		Binary: c.cfg.Binary,
		Args: []string{
			"--dump-json",
			"--no-playlist",
			"--skip-download",
			"--no-warnings",
			rawURL,
		},
		Timeout: c.cfg.ProbeTimeout,
	})
	if err != nil {
		return base, err
	}
	var info ytdlpInfo
	if err := json.Unmarshal(firstJSONLine(res.Stdout), &info); err != nil {
		return base, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	md := base
	md.ID = info.ID
	md.Title = strings.TrimSpace(info.Title)
	md.Uploader = firstNonEmpty(info.Uploader, info.Channel)
	md.Description = strings.TrimSpace(info.Description)
	md.Duration = time.Duration(info.Duration * float64(time.Second))
	md.Thumbnail = info.Thumbnail
	md.ApproxSizeBytes = info.Filesize
	if md.ApproxSizeBytes == 0 {
		md.ApproxSizeBytes = info.FilesizeApprox
	}
	md.Source = SourceYTDLP
	return md, nil
}

func (c *Client) probeHTML(ctx context.Context, rawURL string, base Metadata) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HTMLTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return base, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", desktopUA)
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return base, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return base, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return base, fmt.Errorf("parse page: %w", err)
	}

	meta := func(names ...string) string {
		for _, name := range names {
			sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	md := base
	md.Title = firstNonEmpty(meta("og:title", "twitter:title"), strings.TrimSpace(doc.Find("title").First().Text()))
	md.Description = meta("og:description", "twitter:description", "description")
	md.Thumbnail = meta("og:image", "twitter:image")
	if md.Title == "" && md.Description == "" {
		return base, errors.New("page has no usable metadata")
	}
	md.Source = SourceHTML
	return md, nil
}

// Download fetches rawURL into output using profile. Every failure is
// returned as *Error, except caller cancellation which returns ctx.Err().
func (c *Client) Download(ctx context.Context, rawURL string, profile Profile, output string) error {
	platform := DetectPlatform(rawURL)
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--no-part",
		"-o", output,
	}
	args = append(args, profile.Args()...)
	args = append(args, rawURL)

	res, err := c.runner.Run(ctx, process.Command{
		Binary:  c.cfg.Binary,
		Args:    args,
		Timeout: c.cfg.DownloadTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if process.IsTimeout(err) {
			return &Error{Kind: FailureTimeout, Platform: platform, Detail: fmt.Sprintf("no result after %v", c.cfg.DownloadTimeout), Err: err}
		}
		stderr := string(res.Stderr)
		if stderr == "" {
			stderr = process.StderrOf(err)
		}
		return &Error{Kind: Classify(stderr), Platform: platform, Detail: lastErrorLine(stderr), Err: err}
	}

	if err := settleOutput(output); err != nil {
		detail := lastErrorLine(string(res.Stderr))
		if detail == "" {
			detail = lastErrorLine(string(res.Stdout))
		}
		kind := Classify(string(res.Stderr) + "\n" + string(res.Stdout))
		if kind == FailureUnknown {
			kind = FailureMissingOutput
		}
		return &Error{Kind: kind, Platform: platform, Detail: detail, Err: err}
	}
	return nil
}

// settleOutput makes sure the file yt-dlp wrote lives at exactly output.
// Merged downloads sometimes land with a different extension.
func settleOutput(output string) error {
	if info, err := os.Stat(output); err == nil && info.Size() > 0 {
		return nil
	}
	stem := strings.TrimSuffix(output, filepath.Ext(output))
	matches, _ := filepath.Glob(stem + ".*")
	for _, m := range matches {
		if m == output {
			continue
		}
		if err := os.Rename(m, output); err != nil {
			return fmt.Errorf("rename %s: %w", filepath.Base(m), err)
		}
		return nil
	}
	return errors.New("yt-dlp produced no output file")
}

func firstJSONLine(data []byte) []byte {
	s := strings.TrimSpace(string(data))
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		s = s[:idx]
	}
	return []byte(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
