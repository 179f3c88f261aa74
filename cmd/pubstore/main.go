package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/openpress/pubstore/internal/article"
	"github.com/openpress/pubstore/internal/asset"
	"github.com/openpress/pubstore/internal/config"
	"github.com/openpress/pubstore/internal/engine"
	"github.com/openpress/pubstore/internal/logging"
	"github.com/openpress/pubstore/internal/scheduler"
	"github.com/openpress/pubstore/internal/search"
)

func main() {
	var (
		configPath = flag.String("config", "./configs", "Path to configuration directory")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *help || flag.NArg() == 0 {
		showHelp()
		os.Exit(0)
	}

	logging.DebugEnabled = *debug || os.Getenv("DEBUG") == "1"

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Debug {
		logging.DebugEnabled = true
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage engine: %v", err)
	}
	defer eng.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(eng, cfg, cmd, args); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func run(eng *engine.Engine, cfg config.EngineConfig, cmd string, args []string) error {
	switch cmd {
	case "register":
		return cmdRegister(eng, args)
	case "dedup":
		return cmdDedup(eng, args)
	case "search":
		return cmdSearch(eng, cfg, args)
	case "reindex":
		return eng.Index.Rebuild(context.Background())
	case "versions":
		return cmdVersions(eng, args)
	case "rollback":
		return cmdRollback(eng, args)
	case "archive":
		return cmdArchive(eng, args)
	case "stats":
		return cmdStats(eng)
	case "serve":
		return cmdServe(eng, cfg)
	default:
		showHelp()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdRegister(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	var (
		file    = fs.String("file", "", "Path of the file to register (required)")
		journal = fs.String("journal", "", "Journal ID (required)")
		art     = fs.String("article", "", "Article ID (required)")
		typ     = fs.String("type", "article", "Asset type (article, image, figure, dataset, media, document)")
		role    = fs.String("role", "main", "Usage role (main, supplementary, figure, dataset, cover, logo)")
		shared  = fs.Bool("shared", false, "Register as a shared, cross-article asset")
		title   = fs.String("title", "", "Article title (used on first submission)")
		by      = fs.String("by", "", "Uploader identity")
		reason  = fs.String("reason", "", "Version reason")
	)
	fs.Parse(args)
	if *file == "" || *journal == "" || *art == "" {
		return fmt.Errorf("register requires -file, -journal and -article")
	}

	res, err := eng.PublishUpload(context.Background(), engine.UploadParams{
		JournalID:  *journal,
		ArticleID:  *art,
		FilePath:   *file,
		Type:       asset.Type(*typ),
		Role:       asset.Role(*role),
		Shared:     *shared,
		Title:      *title,
		UploadedBy: *by,
		Reason:     *reason,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Asset:   %s\n", res.AssetID)
	fmt.Printf("Version: %s\n", res.Version.Version)
	return nil
}

func cmdDedup(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("dedup", flag.ExitOnError)
	file := fs.String("file", "", "Path of the candidate file (required)")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("dedup requires -file")
	}

	ref, err := eng.Assets.DetectDuplicate(*file)
	if err != nil {
		return err
	}
	if ref == nil {
		fmt.Println("No duplicate: content is new")
		return nil
	}
	fmt.Printf("Duplicate of asset %s (%s, %d bytes)\n", ref.ID, ref.Metadata.OriginalName, ref.Metadata.Size)
	return nil
}

func cmdSearch(eng *engine.Engine, cfg config.EngineConfig, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	var (
		q       = fs.String("q", "", "Free-text query (required)")
		journal = fs.String("journal", "", "Restrict to one journal")
		author  = fs.String("author", "", "Author name filter (substring)")
		keyword = fs.String("keyword", "", "Keyword filter (substring)")
		status  = fs.String("status", "", "Lifecycle status filter")
		limit   = fs.Int("limit", cfg.SearchDefaultLimit, "Maximum results")
		offset  = fs.Int("offset", 0, "Result offset")
	)
	fs.Parse(args)

	results := eng.Index.Search(search.Query{
		Q:         *q,
		JournalID: *journal,
		Author:    *author,
		Keyword:   *keyword,
		Status:    article.Status(*status),
		Limit:     *limit,
		Offset:    *offset,
	})
	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%4d  %s/%s  %s\n", r.Score, r.Article.JournalID, r.Article.ID, r.Article.Title)
		for _, h := range r.Highlights {
			fmt.Printf("      > %s\n", h)
		}
	}
	return nil
}

func cmdVersions(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	art := fs.String("article", "", "Article ID (required)")
	fs.Parse(args)
	if *art == "" {
		return fmt.Errorf("versions requires -article")
	}

	history, err := eng.Versions.List(*art)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("No versions")
		return nil
	}
	for _, v := range history {
		marker := " "
		if v.IsCurrent {
			marker = "*"
		}
		fmt.Printf("%s %-6s %s  %s\n", marker, v.Version, v.CreatedAt.Format("2006-01-02 15:04"), v.Reason)
	}
	return nil
}

func cmdRollback(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	var (
		journal = fs.String("journal", "", "Journal ID (required)")
		art     = fs.String("article", "", "Article ID (required)")
		target  = fs.String("to", "", "Target version, e.g. v1 (required)")
	)
	fs.Parse(args)
	if *journal == "" || *art == "" || *target == "" {
		return fmt.Errorf("rollback requires -journal, -article and -to")
	}
	return eng.Rollback(*journal, *art, *target)
}

func cmdArchive(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	var (
		journal = fs.String("journal", "", "Journal ID (required)")
		art     = fs.String("article", "", "Article ID (required)")
		target  = fs.String("version", "", "Version to archive (required)")
	)
	fs.Parse(args)
	if *journal == "" || *art == "" || *target == "" {
		return fmt.Errorf("archive requires -journal, -article and -version")
	}
	return eng.Versions.Archive(*journal, *art, *target)
}

func cmdStats(eng *engine.Engine) error {
	stats := eng.Discovery.AssetStats()
	fmt.Printf("Assets:         %d (%d shared)\n", stats.TotalAssets, stats.SharedAssets)
	fmt.Printf("Usage contexts: %d\n", stats.UsageContexts)
	for t, n := range stats.ByType {
		fmt.Printf("  %-10s %d\n", t, n)
	}
	fmt.Printf("Indexed:        %d articles\n", eng.Index.Size())
	return nil
}

func cmdServe(eng *engine.Engine, cfg config.EngineConfig) error {
	if err := eng.Index.Rebuild(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	historyPath := filepath.Join(eng.Resolver.Root(), "maintenance-history.json")
	sched := scheduler.NewScheduler(cfg, historyPath, eng.MaintenanceTasks())
	go sched.Start(ctx)

	fmt.Println("Publishing storage engine running. Press Ctrl+C to stop.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	cancel()
	log.Printf("INFO: Shutting down")
	return nil
}

func showHelp() {
	fmt.Println("pubstore - publishing storage engine")
	fmt.Println()
	fmt.Println("Usage: pubstore [-config DIR] [-debug] COMMAND [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  register  Register an uploaded file and advance the article version")
	fmt.Println("  dedup     Check whether a file's content is already registered")
	fmt.Println("  search    Ranked search over article metadata")
	fmt.Println("  reindex   Rebuild the search index from disk")
	fmt.Println("  versions  List an article's version history")
	fmt.Println("  rollback  Restore an earlier version as current")
	fmt.Println("  archive   Relocate a superseded version to the archive area")
	fmt.Println("  stats     Registry and index statistics")
	fmt.Println("  serve     Run watcher and maintenance scheduler until interrupted")
}
