// Package cli implements textextract, a command line front end that runs
// the classification and extraction pipeline on local PDF files.
package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toricodesthings/text-extraction-service/internal/config"
	"github.com/toricodesthings/text-extraction-service/internal/extractor"
	"github.com/toricodesthings/text-extraction-service/internal/hybrid"
	"github.com/toricodesthings/text-extraction-service/internal/logging"
	"github.com/toricodesthings/text-extraction-service/internal/ocr"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

// Version is set via ldflags during build.
var Version = "dev"

type rootOptions struct {
	output    string
	noHeaders bool
	quality   string
	logLevel  string

	cfg       config.Config
	formatter *Formatter
	chain     *ocr.Chain
	processor *hybrid.Processor
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

func NewRootCommand() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "textextract",
		Short: "Classify PDFs and extract their text",
		Long: `textextract classifies every page of a PDF as text or image, routes
image pages through the configured OCR chain and reads the rest from the
text layer.

OCR backends and thresholds come from the same environment variables as
the HTTP service (OCR_BACKENDS, MISTRAL_API_KEY, GEMINI_API_KEY, ...), and
from a .env file in the working directory.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.output, "output", "o", "table", "output format: table, json, yaml")
	pf.BoolVar(&o.noHeaders, "no-headers", false, "hide table headers")
	pf.StringVarP(&o.quality, "quality", "q", "", "quality tier: fast, balanced, accurate (default DEFAULT_QUALITY)")
	pf.StringVar(&o.logLevel, "log-level", "", "log level (default LOG_LEVEL)")

	root.AddCommand(
		newClassifyCommand(o),
		newExtractCommand(o),
		newBackendsCommand(o),
	)
	return root
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	o.cfg = config.Load()

	level := o.logLevel
	if level == "" {
		level = o.cfg.LogLevel
	}
	logging.SetupWriter(cmd.ErrOrStderr(), level, "console")

	format, err := ParseFormat(o.output)
	if err != nil {
		return err
	}
	o.formatter = &Formatter{Format: format, NoHeaders: o.noHeaders, Writer: cmd.OutOrStdout()}

	o.chain = ocr.NewChainFromConfig(o.cfg, nil)
	o.processor = hybrid.NewFromConfig(o.cfg, o.chain, nil)
	return nil
}

func (o *rootOptions) parseQuality() (types.Quality, error) {
	raw := o.quality
	if raw == "" {
		raw = o.cfg.DefaultQuality
	}
	return types.ParseQuality(raw)
}

func openFile(path string) (extractor.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return extractor.Open(filepath.Base(path), data)
}
