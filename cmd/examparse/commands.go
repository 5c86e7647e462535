package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/examparse"
	"github.com/brunobiangulo/examparse/anchor"
	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/export"
	"github.com/brunobiangulo/examparse/parser"
)

// ---------------------------------------------------------------------------
// parse
// ---------------------------------------------------------------------------

type parseFlags struct {
	asJSON   bool
	name     string
	provider string
	version  string
	pages    string
}

func (f *parseFlags) options() ([]examparse.ParseOption, error) {
	opts := []examparse.ParseOption{}
	if f.name != "" {
		opts = append(opts, examparse.WithName(f.name))
	}
	if f.provider != "" {
		opts = append(opts, examparse.WithProvider(f.provider))
	}
	if f.version != "" {
		opts = append(opts, examparse.WithVersion(f.version))
	}
	if f.pages != "" {
		start, end, err := parsePages(f.pages)
		if err != nil {
			return nil, err
		}
		opts = append(opts, examparse.WithPageRange(start, end))
	}
	return opts, nil
}

func newParseCmd(g *globalFlags) *cobra.Command {
	f := &parseFlags{}
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse one exam document and store the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			engine, err := g.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.ParseFile(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			if f.asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().StringVar(&f.name, "name", "", "exam name (defaults to the file name)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "exam provider")
	cmd.Flags().StringVar(&f.version, "version", "", "exam version")
	cmd.Flags().StringVar(&f.pages, "pages", "", "page range, e.g. 3-10")
	return cmd
}

// printSummary writes a short human-readable report of a parse.
func printSummary(w io.Writer, res *examparse.Result) {
	v := res.Validation
	fmt.Fprintf(w, "Exam:       %s (id %d)\n", res.Exam.Name, res.ExamID)
	if res.Exam.SourceFile != "" {
		fmt.Fprintf(w, "Source:     %s, %d pages, %s\n", res.Exam.SourceFile, res.Exam.TotalPages, res.Exam.ParseMethod)
	}
	fmt.Fprintf(w, "Questions:  %d detected, %d structured (%.2f%%)\n",
		v.TotalQuestionsDetected, v.StructuredSuccessfully, v.SuccessRate)
	if len(v.MissingQuestionNumbers) > 0 {
		fmt.Fprintf(w, "Missing:    %s\n", joinInts(v.MissingQuestionNumbers))
	}
	if len(v.DuplicateQuestionNumbers) > 0 {
		fmt.Fprintf(w, "Duplicates: %s\n", joinInts(v.DuplicateQuestionNumbers))
	}
	if len(v.QuestionsMissingAnswer) > 0 {
		fmt.Fprintf(w, "No answer:  %s\n", joinInts(v.QuestionsMissingAnswer))
	}
	if v.OrphanImages > 0 {
		fmt.Fprintf(w, "Orphans:    %d images\n", v.OrphanImages)
	}
	if len(v.AnomalyBreakdown) > 0 {
		types := make([]string, 0, len(v.AnomalyBreakdown))
		for t := range v.AnomalyBreakdown {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprintln(w, "Anomalies:")
		for _, t := range types {
			fmt.Fprintf(w, "  %-28s %d\n", t, v.AnomalyBreakdown[t])
		}
	}
}

// ---------------------------------------------------------------------------
// batch
// ---------------------------------------------------------------------------

func newBatchCmd(g *globalFlags) *cobra.Command {
	var workers int
	var recursive bool
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Parse every supported document in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectFiles(args[0], recursive)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no supported documents in %s", args[0])
			}
			engine, err := g.engine()
			if err != nil {
				return err
			}
			defer engine.Close()

			results := runBatch(cmd.Context(), engine, files, workers)
			failed := 0
			for _, r := range results {
				if r.err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", r.file, r.err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK    %s: %d questions, %.2f%% structured\n",
					r.file, len(r.res.Questions), r.res.Validation.SuccessRate)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d parsed, %d failed\n", len(results)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "documents parsed concurrently")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")
	return cmd
}

type batchResult struct {
	file string
	res  *examparse.Result
	err  error
}

// runBatch parses files concurrently. A failed document does not stop the
// others; results keep the input order.
func runBatch(ctx context.Context, engine examparse.Engine, files []string, workers int) []batchResult {
	results := make([]batchResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	var mu sync.Mutex
	done := 0
	for i, file := range files {
		g.Go(func() error {
			start := time.Now()
			res, err := engine.ParseFile(gctx, file)
			results[i] = batchResult{file: file, res: res, err: err}

			mu.Lock()
			done++
			slog.Info("batch: document finished", "file", filepath.Base(file),
				"progress", fmt.Sprintf("%d/%d", done, len(files)),
				"elapsed", time.Since(start).Round(time.Millisecond), "error", err)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// collectFiles lists the documents under dir whose format has an extractor.
func collectFiles(dir string, recursive bool) ([]string, error) {
	supported := make(map[string]bool)
	for _, f := range parser.NewRegistry().Formats() {
		supported[f] = true
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		// Skip our own output files.
		if strings.HasSuffix(path, "_parsed.json") || strings.HasSuffix(path, "_raw_blocks.json") ||
			strings.HasSuffix(path, "_validation.json") {
			return nil
		}
		if supported[parser.FormatOf(path)] {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func newValidateCmd() *cobra.Command {
	var blocksPath string
	var summary bool
	cmd := &cobra.Command{
		Use:   "validate <exam>_parsed.json",
		Short: "Recompute the validation report of a saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := examparse.ReadResult(args[0])
			if err != nil {
				return err
			}
			var blocks []exam.ContentBlock
			if blocksPath == "" {
				blocksPath = siblingBlocks(args[0])
			}
			if blocksPath != "" {
				if blocks, err = examparse.ReadBlocks(blocksPath); err != nil {
					return err
				}
			}
			res.Validation = examparse.Revalidate(res, blocks)
			if summary {
				printSummary(cmd.OutOrStdout(), res)
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), res.Validation)
		},
	}
	cmd.Flags().StringVar(&blocksPath, "blocks", "", "raw blocks file (defaults to the <exam>_raw_blocks.json next to the result)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print a summary instead of JSON")
	return cmd
}

// siblingBlocks returns the raw blocks file written next to a parsed result,
// or "" if there is none.
func siblingBlocks(parsedPath string) string {
	if !strings.HasSuffix(parsedPath, "_parsed.json") {
		return ""
	}
	path := strings.TrimSuffix(parsedPath, "_parsed.json") + "_raw_blocks.json"
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// ---------------------------------------------------------------------------
// info
// ---------------------------------------------------------------------------

// documentInfo is what info reports about a document without parsing it.
type documentInfo struct {
	File        string            `json:"file"`
	Format      string            `json:"format"`
	Method      string            `json:"method"`
	TotalPages  int               `json:"total_pages"`
	TextBlocks  int               `json:"text_blocks"`
	ImageBlocks int               `json:"image_blocks"`
	RawAnchors  int               `json:"raw_question_anchors"`
	PerPage     map[int]int       `json:"blocks_per_page"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Show format, page count and fragment counts of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			info, err := inspect(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "File:      %s\n", info.File)
			fmt.Fprintf(w, "Format:    %s (%s)\n", info.Format, info.Method)
			fmt.Fprintf(w, "Pages:     %d\n", info.TotalPages)
			fmt.Fprintf(w, "Fragments: %d text, %d image\n", info.TextBlocks, info.ImageBlocks)
			fmt.Fprintf(w, "Anchors:   %d question anchors found by raw scan\n", info.RawAnchors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// inspect extracts a document without storing it. Images are identified but
// not written.
func inspect(ctx context.Context, path string, cfg examparse.Config) (*documentInfo, error) {
	format := parser.FormatOf(path)
	ext, err := parser.NewRegistry().Get(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", examparse.ErrUnsupportedFormat, format)
	}
	extraction, err := ext.Extract(ctx, path, parser.Options{
		MinImageSize: cfg.MinImageSize,
		PageStart:    cfg.PageStart,
		PageEnd:      cfg.PageEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", examparse.ErrExtractionFailed, err)
	}

	info := &documentInfo{
		File:       filepath.Base(path),
		Format:     format,
		Method:     extraction.Method,
		TotalPages: extraction.TotalPages,
		PerPage:    make(map[int]int),
	}
	for _, b := range extraction.Blocks {
		if b.IsImage() {
			info.ImageBlocks++
		} else {
			info.TextBlocks++
		}
		info.PerPage[b.PageNumber]++
	}
	blocks := extraction.Blocks
	if !extraction.Ordered {
		blocks = exam.Sequence(blocks)
	}
	info.RawAnchors = len(anchor.ScanRaw(blocks))
	info.Metadata = extraction.Metadata
	return info, nil
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <exam>_parsed.json <out.xlsx>",
		Short: "Write a saved result as an XLSX review workbook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := examparse.ReadResult(args[0])
			if err != nil {
				return err
			}
			if !strings.EqualFold(filepath.Ext(args[1]), ".xlsx") {
				return errors.New("output file must have the .xlsx extension")
			}
			if err := export.WriteFile(args[1], export.Workbook{
				Name:      res.Exam.Name,
				Questions: res.Questions,
				Report:    res.Validation,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d questions)\n", args[1], len(res.Questions))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
