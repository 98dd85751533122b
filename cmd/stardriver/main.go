package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/Sakurayuki-A/StarDriver/internal/cache"
	"github.com/Sakurayuki-A/StarDriver/internal/config"
	"github.com/Sakurayuki-A/StarDriver/internal/downloader"
	"github.com/Sakurayuki-A/StarDriver/internal/health"
	sdhttp "github.com/Sakurayuki-A/StarDriver/internal/http"
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
	"github.com/Sakurayuki-A/StarDriver/internal/progress"
	"github.com/Sakurayuki-A/StarDriver/internal/scanner"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitGeneralErr  = 1
	ExitSomeFailed  = 2
	ExitInterrupted = 130
)

type syncCmd struct {
	MissingOnly bool `arg:"--missing-only" help:"only download absent files, skip size/digest checks"`
	TrustCache  bool `arg:"--trust-cache" help:"skip files whose digest cache entry is fresh"`
	Rehash      bool `arg:"--rehash" help:"ignore the digest cache and rehash every present file"`
}

type checkCmd struct {
	Rehash bool `arg:"--rehash" help:"ignore the digest cache and rehash every present file"`
}

type cliArgs struct {
	Sync  *syncCmd  `arg:"subcommand:sync" help:"bring the install tree into agreement with the manifest"`
	Check *checkCmd `arg:"subcommand:check" help:"scan only: report what would be downloaded"`

	Root      string `arg:"-r,--root" help:"install root directory"`
	Config    string `arg:"-c,--config" help:"path to YAML config file"`
	Selection string `arg:"-s,--selection" help:"dataset selection: full, main or launcher"`
	Quiet     bool   `arg:"-q,--quiet" help:"suppress the progress display"`
}

func (cliArgs) Description() string {
	return "stardriver synchronizes a PSO2 install tree with the patch-server manifest"
}

func main() {
	os.Exit(run())
}

func run() int {
	// A .env in the working directory can carry STARDRIVER_* overrides.
	godotenv.Load()

	var args cliArgs
	parser := arg.MustParse(&args)
	if args.Sync == nil && args.Check == nil {
		parser.WriteHelp(os.Stderr)
		return ExitGeneralErr
	}

	cfg, err := loadConfig(&args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralErr
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[stardriver] Received interrupt, shutting down...")
		cancel()
	}()

	engine, err := buildEngine(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralErr
	}

	sel := parseSelection(cfg.Selection)
	policy := buildPolicy(&args)

	if args.Check != nil {
		return runCheck(ctx, engine, sel, policy)
	}

	result, err := engine.Run(ctx, sel, policy)
	if err != nil {
		if ctx.Err() != nil {
			return ExitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralErr
	}

	switch {
	case result.Cancelled > 0:
		return ExitInterrupted
	case result.Failed > 0:
		fmt.Fprintf(os.Stderr, "[stardriver] %d files failed; run again to retry them\n", result.Failed)
		return ExitSomeFailed
	default:
		return ExitSuccess
	}
}

func runCheck(ctx context.Context, engine *downloader.Engine, sel manifest.Selection, policy scanner.Policy) int {
	need, err := engine.Check(ctx, sel, policy)
	if err != nil {
		if ctx.Err() != nil {
			return ExitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralErr
	}

	var total int64
	for _, entry := range need {
		fmt.Printf("%s\t%d\t%s\n", entry.RelPath, entry.Size, entry.MD5)
		total += entry.Size
	}
	fmt.Fprintf(os.Stderr, "[stardriver] %d files to download (%s)\n",
		len(need), progress.FormatBytes(total))
	return ExitSuccess
}

func loadConfig(args *cliArgs) (config.Config, error) {
	cfg := config.Default()
	if args.Config != "" {
		loaded, err := config.LoadFromFile(args.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	// Flags win over file and environment.
	if args.Root != "" {
		cfg.InstallRoot = args.Root
	}
	if args.Selection != "" {
		cfg.Selection = args.Selection
	}
	if args.Quiet {
		cfg.Progress = false
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func buildEngine(cfg config.Config, log *slog.Logger) (*downloader.Engine, error) {
	httpOpts := sdhttp.DefaultOptions()
	if cfg.Timeout > 0 {
		httpOpts.Timeout = cfg.Timeout
	}
	httpClient := sdhttp.NewClient(httpOpts)

	client := manifest.NewClient(httpClient, cfg.ManagementURL, log)

	bucket, err := cache.OpenDirBucket(cfg.BinDir())
	if err != nil {
		return nil, err
	}
	dcache := cache.New(bucket, log)

	var sink progress.Sink = progress.NullSink{}
	if cfg.Progress {
		sink = progress.NewReporter(os.Stderr)
	}

	engine := downloader.NewEngine(
		client, httpClient, afero.NewOsFs(), dcache,
		health.New(), sink, cfg.BinDir(), log,
	)
	engine.RetryOverride = cfg.Retries
	return engine, nil
}

func parseSelection(s string) manifest.Selection {
	switch s {
	case "main":
		return manifest.MainOnly
	case "launcher":
		return manifest.LauncherOnly
	default:
		return manifest.FullDataset
	}
}

func buildPolicy(args *cliArgs) scanner.Policy {
	policy := scanner.DefaultPolicy

	var flags *syncCmd
	switch {
	case args.Sync != nil:
		flags = args.Sync
	case args.Check != nil:
		flags = &syncCmd{Rehash: args.Check.Rehash}
	}

	if flags.MissingOnly {
		policy = scanner.MissingOnly
	}
	if flags.TrustCache {
		policy |= scanner.TrustCacheOnly
	}
	if flags.Rehash {
		policy |= scanner.ForceRehash
	}
	return policy
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	return log.With(slog.String("run_id", uuid.NewString()))
}
