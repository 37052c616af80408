package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toricodesthings/text-extraction-service/internal/hybrid"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

func newClassifyCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify FILE...",
		Short: "Classify pages and show the routing plan without extracting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := o.parseQuality()
			if err != nil {
				return err
			}

			results := make([]types.ClassifyResponse, 0, len(args))
			for _, path := range args {
				doc, err := openFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				cls, decision, err := o.processor.Plan(doc, q)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results = append(results, types.ClassifyResponse{
					Success:        true,
					FileName:       doc.Name(),
					Classification: cls,
					Routing:        decision,
				})
			}

			if o.formatter.Format != FormatTable {
				return o.formatter.Print(results)
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{
					r.FileName,
					string(r.Classification.DocumentType),
					strconv.Itoa(r.Classification.TotalPages),
					pageList(r.Classification.TextPages),
					pageList(r.Classification.ImagePages),
					strconv.FormatFloat(r.Classification.Confidence, 'f', 2, 64),
					string(r.Routing.Strategy),
					pageList(r.Routing.OCRPages),
					strconv.FormatFloat(r.Routing.EstimatedCost, 'f', 3, 64),
				})
			}
			return o.formatter.PrintTable(TableData{
				Headers: []string{"File", "Type", "Pages", "Text", "Image", "Confidence", "Strategy", "OCR Pages", "Est Cost"},
				Rows:    rows,
			})
		},
	}
}

func newExtractCommand(o *rootOptions) *cobra.Command {
	var (
		markers bool
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract text, using OCR for pages without a usable text layer",
		Long: `Extract prints the combined text to stdout in table mode, or the full
result (pages, routing, backend status) with -o json or -o yaml.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := o.parseQuality()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("markers") {
				o.cfg.IncludePageMarkers = markers
				o.processor = hybrid.NewFromConfig(o.cfg, o.chain, nil)
			}

			doc, err := openFile(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			res := o.processor.Extract(cmd.Context(), doc, q)
			if !res.Success {
				msg := "extraction failed"
				if res.Error != nil {
					msg = *res.Error
				}
				return fmt.Errorf("%s: %s", args[0], msg)
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(res.FullText), 0o644); err != nil {
					return err
				}
			}
			if o.formatter.Format != FormatTable {
				return o.formatter.Print(res)
			}
			if outPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.FullText)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s, %d pages, %d words, method %s, %.0fms\n",
				res.FileName, res.PDFType, res.TotalPages, res.WordCount, res.ExtractionMethod, res.ProcessingTimeMs)
			for _, pe := range res.PageErrors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  page %d: %s (%s): %s\n", pe.PageNumber, pe.Backend, pe.Kind, pe.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markers, "markers", true, "insert page markers between pages (default INCLUDE_PAGE_MARKERS)")
	cmd.Flags().StringVar(&outPath, "out", "", "write the text to this file instead of stdout")
	return cmd
}

func newBackendsCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the configured OCR backends in chain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := o.chain.Info()
			if o.formatter.Format != FormatTable {
				return o.formatter.Print(info)
			}
			rows := make([][]string, 0, len(info))
			for _, b := range info {
				rows = append(rows, []string{b.Name, strconv.FormatBool(b.Available)})
			}
			return o.formatter.PrintTable(TableData{Headers: []string{"Name", "Available"}, Rows: rows})
		},
	}
}

func pageList(pages []int) string {
	if len(pages) == 0 {
		return "-"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
