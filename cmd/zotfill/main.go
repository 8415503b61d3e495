package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aduverger/zotfill/internal/config"
	"github.com/aduverger/zotfill/internal/llm"
	"github.com/aduverger/zotfill/internal/metadata"
	"github.com/aduverger/zotfill/internal/textextract"
	"github.com/aduverger/zotfill/internal/updater"
	"github.com/aduverger/zotfill/internal/zotero"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	// Parse CLI flags
	var (
		folder      = flag.String("folder", "", "folder of PDFs to import into the catalog")
		item        = flag.String("item", "", "catalog item key to refresh from its PDF attachment")
		all         = flag.Bool("all", false, "refresh every catalog item that has a PDF attachment")
		collections = flag.String("collections", "", "comma-separated collection keys for created items")
		pattern     = flag.String("pattern", "", "filename glob applied to the folder scan")
		recursive   = flag.Bool("recursive", false, "descend into subfolders")
		useOCR      = flag.Bool("ocr", false, "rasterize and OCR pages instead of reading the text layer")
		dryRun      = flag.Bool("dry-run", false, "analyze documents but write nothing to the catalog")
		keepDup     = flag.Bool("keep-duplicates", false, "import PDFs even when their content is already in the catalog")
		force       = flag.Bool("force", false, "refresh items even when title and creators are already set")
		providerSel = flag.String("provider", "", "generation backend (anthropic, openrouter or llama; overrides LLM_PROVIDER)")
		verbose     = flag.Bool("verbose", false, "debug-level logging")
	)
	flag.Parse()

	modes := 0
	for _, on := range []bool{*folder != "", *item != "", *all} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		printError("Error: --folder, --item and --all are mutually exclusive\n")
		flag.Usage()
		os.Exit(1)
	}
	if modes == 0 {
		// No selection means the whole catalog.
		*all = true
	}

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if _, err := os.Stat(config.EnvFile); err != nil {
		printError("Error: no %s file found in the current directory.\n", config.EnvFile)
		printError("Create one with at least:\n")
		for key, desc := range config.RequiredEnv {
			printError("  %s  # %s\n", key, desc)
		}
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if missing := cfg.MissingRequired(); len(missing) > 0 {
		printError("Error: missing required environment variables:\n")
		for _, m := range missing {
			printError("  %s\n", m)
		}
		os.Exit(1)
	}
	if *providerSel != "" {
		cfg.LLM.Provider = config.ProviderKind(*providerSel)
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Wire the pipeline
	catalog, err := zotero.NewClient(cfg.Zotero.LibraryID, cfg.Zotero.LibraryType, cfg.Zotero.APIKey, logger)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	textSource := textextract.NewExtractor(cfg.OCR, logger)
	if *useOCR {
		if err := textSource.CheckTools(); err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
	}

	provider, err := llm.New(cfg.LLM, logger)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	metaSource, err := metadata.NewExtractor(provider, cfg.LLM.Provider, cfg.Files, logger)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	var colls []string
	if *collections != "" {
		for _, c := range strings.Split(*collections, ",") {
			if c = strings.TrimSpace(c); c != "" {
				colls = append(colls, c)
			}
		}
	}

	opts := updater.Options{
		DryRun:         *dryRun,
		KeepDuplicates: *keepDup,
		UseOCR:         *useOCR,
		Collections:    colls,
	}
	u := updater.New(catalog, textSource, metaSource, opts, logger)

	if *verbose {
		fmt.Printf("Connected to %s library %s\n", cfg.Zotero.LibraryType, cfg.Zotero.LibraryID)
		fmt.Printf("Provider: %s, OCR: %v, dry run: %v\n", provider.Name(), *useOCR, *dryRun)
	}

	switch {
	case *folder != "":
		summary, err := u.RunFolder(ctx, *folder, *recursive, *pattern)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		printSummary(summary)
		if !*dryRun && summary.Processed > 0 {
			printCost(metaSource.CalculateCost())
		}
		if summary.Failed > 0 {
			os.Exit(1)
		}

	case *item != "":
		res, err := u.RefreshItem(ctx, *item, *force)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		switch res.State {
		case updater.StateSkipped:
			fmt.Printf("Item %s already has metadata, nothing to do (use --force to overwrite)\n", *item)
		case updater.StateWritten:
			fmt.Printf("Item %s updated\n", *item)
			printCost(metaSource.CalculateCost())
		default:
			fmt.Printf("Item %s analyzed (dry run), %d fields would be written\n", *item, len(res.Fields))
		}

	case *all:
		summary, err := u.RunCatalog(ctx, *force)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		printSummary(summary)
		if !*dryRun && summary.Processed > 0 {
			printCost(metaSource.CalculateCost())
		}
		if summary.Failed > 0 {
			os.Exit(1)
		}
	}
}

func printSummary(s *updater.Summary) {
	fmt.Printf("Done!\n")
	fmt.Printf("- Processed: %d\n", s.Processed)
	fmt.Printf("- Skipped: %d\n", s.Skipped)
	fmt.Printf("- Failed: %d\n", s.Failed)
	for _, f := range s.Failures {
		fmt.Printf("  - %s: %v\n", f.Path, f.Err)
	}
}

func printCost(r metadata.CostReport) {
	fmt.Printf("Token usage:\n")
	fmt.Printf("- Input tokens: %s ($%s)\n", groupThousands(r.InputTokens), r.InputCost.StringFixed(4))
	fmt.Printf("- Output tokens: %s ($%s)\n", groupThousands(r.OutputTokens), r.OutputCost.StringFixed(4))
	fmt.Printf("- Total cost: $%s\n", r.TotalCost.StringFixed(4))
}

// groupThousands formats n with comma separators, e.g. 1234567 -> "1,234,567".
func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, ",")
}
