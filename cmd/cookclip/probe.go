package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cookclip/internal/acquisition"
	"cookclip/internal/config"
	"cookclip/internal/fetch"
	"cookclip/internal/fusion"
	"cookclip/internal/process"
)

func newProbeCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe <url>",
		Short: "Show what is known about a link without downloading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			client, err := newFetchOnly(cfg)
			if err != nil {
				return err
			}
			rawURL := args[0]
			if link, ok := fetch.ExtractURL(rawURL); ok {
				rawURL = link
			}
			md := client.Probe(cmd.Context(), rawURL)
			decision := probeDecision(md)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Metadata fetch.Metadata  `json:"metadata"`
					Decision fusion.Decision `json:"ocr_decision"`
				}{md, decision})
			}
			renderMetadata(cmd.OutOrStdout(), md, decision)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newFetchOnly(cfg config.Config) (*fetch.Client, error) {
	client, _, err := newFetcher(cfg, process.ExecRunner{}, nil)
	return client, err
}

// probeDecision is the OCR verdict before any transcript exists.
func probeDecision(md fetch.Metadata) fusion.Decision {
	return fusion.Decide("", fusion.Description(md), fusion.VideoInfo{
		Duration:  md.Duration,
		Platform:  md.Platform,
		ShortForm: md.ShortForm,
	})
}

func renderMetadata(out io.Writer, md fetch.Metadata, d fusion.Decision) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Platform", md.Platform.DisplayName()})
	t.AppendRow(table.Row{"URL", md.URL})
	t.AppendRow(table.Row{"Title", orDash(md.Title)})
	t.AppendRow(table.Row{"Uploader", orDash(md.Uploader)})
	t.AppendRow(table.Row{"Duration", md.Duration.Round(time.Second)})
	t.AppendRow(table.Row{"Short form", md.ShortForm})
	if md.ApproxSizeBytes > 0 {
		t.AppendRow(table.Row{"Approx. size", fmt.Sprintf("%.1f MB", float64(md.ApproxSizeBytes)/float64(1<<20))})
	}
	t.AppendRow(table.Row{"Source", md.Source})
	if md.Placeholder {
		t.AppendRow(table.Row{"Placeholder", yellow("metadata unavailable")})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Description score", fmt.Sprintf("%.2f", d.DescriptionScore)})
	t.AppendRow(table.Row{"OCR", ocrSummary(d)})
	t.AppendRow(table.Row{"Reason", d.Reason})
	t.Render()
}

func ocrSummary(d fusion.Decision) string {
	if !d.ShouldRun {
		return "skip"
	}
	return fmt.Sprintf("%s, every %s, up to %d frames", d.Strategy, d.Interval, d.MaxFrames)
}

func renderAttempts(out io.Writer, attempts []acquisition.Attempt) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"#", "Profile", "Outcome", "Took", "Detail"})
	for _, a := range attempts {
		outcome := red(a.Outcome)
		if a.Outcome == acquisition.AttemptOK {
			outcome = green(a.Outcome)
		}
		t.AppendRow(table.Row{a.Number, a.Profile, outcome, a.Duration.Round(time.Millisecond), truncate(a.Detail, 60)})
	}
	t.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
