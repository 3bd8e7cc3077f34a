package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"imagesorter/config"
	"imagesorter/database"
	"imagesorter/imageprocessor"
	"imagesorter/imageprocessor/cvloader"
	"imagesorter/logging"
	"imagesorter/matcher"
	"imagesorter/reference"
	"imagesorter/router"
	"imagesorter/scanner"
	"imagesorter/signalhandler"
	"imagesorter/types"
	"imagesorter/utils"

	"github.com/fatih/color"
)

func main() {
	args := utils.ParseArguments(os.Args[1:])
	command, hasCommand := args["command"]

	// Setup debug logging if enabled
	if _, ok := args["debug"]; ok {
		logging.SetConsole(os.Stderr, slog.LevelDebug)
		logPath := "imagesorter.log"
		if customLogPath, ok := utils.Lookup(args, "logfile"); ok {
			logPath = customLogPath
		}
		if err := logging.SetupLogger(logPath); err != nil {
			logging.LogWarning("failed to set up log file", "path", logPath, "error", err)
		} else {
			fmt.Printf("Debug mode enabled. Logging to: %s\n", logPath)
		}
	}

	if !hasCommand {
		utils.PrintUsage(os.Stderr, os.Args[0])
		os.Exit(2)
	}

	cfgPath, _ := utils.Lookup(args, "config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.LogError("cannot load config", "error", err)
		os.Exit(2)
	}
	if err := utils.ApplyOverrides(cfg, args); err != nil {
		logging.LogError("invalid arguments", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signalhandler.SetupHandler(context.Background())

	var code int
	switch command {
	case utils.CommandClassify:
		code = handleClassifyCommand(ctx, args, cfg)
	case utils.CommandSearch:
		code = handleSearchCommand(ctx, args, cfg)
	}

	cancel()
	logging.CloseLogger()
	os.Exit(code)
}

func newHasher(cfg *config.Config) (*imageprocessor.HashProvider, error) {
	registry := imageprocessor.NewImageLoaderRegistry()
	if cfg.Loader == config.LoaderOpenCV {
		if err := cvloader.Register(registry); err != nil {
			return nil, err
		}
	}
	return imageprocessor.NewHashProvider(registry,
		imageprocessor.HashAlgorithm(cfg.Hash.Algorithm), cfg.Hash.Size)
}

func handleClassifyCommand(ctx context.Context, args map[string]string, cfg *config.Config) int {
	inputDir, hasInput := utils.Lookup(args, "dir", "input")
	templateRoot, hasTemplates := utils.Lookup(args, "template_dir", "templates")
	resultRoot, hasResult := utils.Lookup(args, "result_dir", "output")
	if !hasInput || !hasTemplates || !hasResult {
		fmt.Fprintln(os.Stderr, "Error: classify needs --dir, --template_dir and --result_dir")
		utils.PrintUsage(os.Stderr, os.Args[0])
		return 2
	}

	hasher, err := newHasher(cfg)
	if err != nil {
		logging.LogError("cannot set up hashing", "error", err)
		return 1
	}

	opts := scanner.RunOptions{
		InputDir:     inputDir,
		TemplateRoot: templateRoot,
		ResultRoot:   resultRoot,
		Threshold:    cfg.Threshold,
		Workers:      cfg.Workers,
		Collision:    cfg.Collision,
		RootFiles:    cfg.RootFiles,
		Centroid:     cfg.Strategy == config.StrategyCentroid,
		ImageTimeout: time.Duration(cfg.ImageTimeout),
		Hasher:       hasher,
	}
	scanner.PrintStartupInfo(os.Stdout, opts)

	// An unreadable input directory is reported by Run below.
	candidates, _ := scanner.ListCandidates(inputDir)
	tracker := scanner.NewProgressTracker(os.Stdout, len(candidates), 0)
	opts.Progress = tracker.Update

	report, err := scanner.Run(ctx, opts)
	tracker.Stop()
	if err != nil {
		if errors.Is(err, scanner.ErrInputDirNotFound) || errors.Is(err, scanner.ErrInputNotDir) {
			logging.LogError("input directory unusable", "input", inputDir, "error", err)
		} else {
			logging.LogError("classification failed", "error", err)
		}
		return 1
	}

	stats := journalStats(report, opts, cfg.Journal)
	scanner.PrintCompletionStats(os.Stdout, stats, report.Elapsed)
	if dropped := report.Index.Dropped(); len(dropped) > 0 {
		fmt.Printf("%s %d template images could not be hashed and were ignored.\n",
			color.YellowString("Note:"), len(dropped))
	}
	return 0
}

// journalStats records the run in the SQLite journal and reads the summary
// back from it. If the journal is unusable the in-memory outcomes are used.
func journalStats(report *scanner.BatchReport, opts scanner.RunOptions, journal string) types.RunStats {
	db, err := database.InitDatabase(journal)
	if err != nil {
		logging.LogWarning("journal unavailable, summarising in memory", "journal", journal, "error", err)
		return report.Stats()
	}
	defer db.Close()

	err = database.RecordRun(db, database.RunInfo{
		RunID:        report.RunID,
		InputDir:     opts.InputDir,
		TemplateRoot: opts.TemplateRoot,
		ResultRoot:   opts.ResultRoot,
		Threshold:    opts.Threshold,
		StartedAt:    report.StartedAt,
	})
	if err != nil {
		logging.LogWarning("journal write failed", "error", err)
		return report.Stats()
	}
	for _, outcome := range report.Outcomes {
		if err := database.RecordOutcome(db, report.RunID, outcome); err != nil {
			logging.LogWarning("journal write failed", "error", err)
			return report.Stats()
		}
	}
	if err := database.FinishRun(db, report.RunID); err != nil {
		logging.LogWarning("journal write failed", "error", err)
	}

	stats, err := database.GetRunStats(db, report.RunID)
	if err != nil {
		logging.LogWarning("journal read failed", "error", err)
		return report.Stats()
	}
	logging.DebugLog("run journaled", "run", report.RunID, "journal", journal)
	return *stats
}

func handleSearchCommand(ctx context.Context, args map[string]string, cfg *config.Config) int {
	queryPath, hasQuery := utils.Lookup(args, "image")
	templateRoot, hasTemplates := utils.Lookup(args, "template_dir", "templates")
	if !hasQuery || !hasTemplates {
		fmt.Fprintln(os.Stderr, "Error: search needs --image and --template_dir")
		utils.PrintUsage(os.Stderr, os.Args[0])
		return 2
	}

	if _, err := os.Stat(queryPath); err != nil {
		logging.LogError("query image unusable", "path", queryPath, "error", err)
		return 1
	}

	hasher, err := newHasher(cfg)
	if err != nil {
		logging.LogError("cannot set up hashing", "error", err)
		return 1
	}
	if !hasher.CanHash(queryPath) {
		logging.LogError("query image format not supported", "path", queryPath,
			"supported", imageprocessor.GetSupportedExtensions())
		return 1
	}

	startTime := time.Now()
	queryHash, err := hasher.HashImage(queryPath)
	if err != nil {
		logging.LogError("cannot hash query image", "path", queryPath, "error", err)
		return 1
	}

	idx, err := reference.Build(ctx, templateRoot, hasher, reference.Options{
		RootFiles: cfg.RootFiles,
		Workers:   cfg.Workers,
	})
	if err != nil {
		logging.LogError("cannot index templates", "error", err)
		return 1
	}
	copyTo, copying := utils.Lookup(args, "copy-to")
	if cfg.Strategy == config.StrategyCentroid {
		idx = matcher.Centroids(idx)
		if copying {
			logging.LogWarning("--copy-to ignored: centroid results are labels, not files")
			copying = false
		}
	}

	matches := matcher.Rank(queryHash, idx)

	fmt.Println("\nTop Matches:")
	if len(matches) == 0 {
		fmt.Println("No matches found.")
	}
	for i := 0; i < cfg.SearchTopN && i < len(matches); i++ {
		m := matches[i]
		label := color.GreenString(m.TopLabel)
		if m.Score < cfg.Threshold {
			label = color.YellowString(m.TopLabel)
		}
		fmt.Printf("%d. Image: %s [%s]\n", i+1, m.Path, label)
		fmt.Printf("   Similarity: %.4f (distance %d)\n", m.Score, m.Distance)
	}

	if copying {
		exported := 0
		for _, m := range matches {
			if _, err := router.CopyAs(m.Path, copyTo, router.SimilarityName(m.Path, m.Score)); err != nil {
				logging.LogWarning("cannot export match", "path", m.Path, "error", err)
				continue
			}
			exported++
		}
		fmt.Printf("\nCopied %d references to %s\n", exported, copyTo)
	}

	fmt.Printf("\nTotal search time: %v\n", time.Since(startTime))
	return 0
}
