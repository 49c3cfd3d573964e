package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cookclip/internal/bot"
	"cookclip/internal/recipe"
)

type extractOptions struct {
	json     bool
	noRecipe bool
	timeout  time.Duration
}

func newExtractCmd(c *cli) *cobra.Command {
	opts := extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Download one video and print its recipe",
		Long: `Run the full pipeline for a single link without a chat transport:
download, validate, compress when needed, transcribe, read on-screen text
and, when the parser is enabled, write up the recipe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePipeline(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				_ = a.close(closeCtx)
			}()
			if opts.noRecipe {
				a.parser = nil
			}
			return runExtract(ctx, cmd.OutOrStdout(), a, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the extraction as JSON")
	cmd.Flags().BoolVar(&opts.noRecipe, "no-recipe", false, "skip the recipe parser")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Minute, "overall deadline")
	return cmd
}

func runExtract(ctx context.Context, out io.Writer, a *app, rawURL string, opts extractOptions) error {
	sink := newConsoleSink(out)
	if opts.json {
		sink = newConsoleSink(io.Discard)
	}
	b := a.newBot(nil, nil)
	ex, err := b.Extract(ctx, rawURL, sink)
	if err != nil {
		return err
	}

	var text string
	if a.parser != nil && !ex.Bundle.IsEmpty() {
		sink.Progress(ctx, "writing up the recipe")
		text, err = a.parser.Parse(ctx, ex.Metadata.Title, ex.Bundle)
		switch {
		case errors.Is(err, recipe.ErrNoContent), errors.Is(err, recipe.ErrNoRecipe):
			sink.Notify(ctx, "no recipe found in this video")
		case err != nil:
			return fmt.Errorf("parse recipe: %w", err)
		}
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(extractOutput{Extraction: ex, Recipe: text})
	}

	if len(ex.Attempts) > 0 {
		fmt.Fprintln(out)
		renderAttempts(out, ex.Attempts)
	}
	md := extractionMarkdown(ex)
	if text != "" {
		md += "\n---\n\n" + text + "\n"
	}
	return printMarkdown(out, md)
}

type extractOutput struct {
	bot.Extraction
	Recipe string `json:"recipe,omitempty"`
}

func printMarkdown(out io.Writer, md string) error {
	r, err := newMarkdownRenderer(!isTTY())
	if err != nil {
		_, werr := fmt.Fprintln(out, md)
		return werr
	}
	rendered, err := r.Render(md)
	if err != nil {
		rendered = md
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}
