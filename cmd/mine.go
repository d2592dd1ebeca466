// This file implements the mine command: crawl and watch a directory
// tree, extracting metadata into the local store.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arjunmehta/filedex/extractor/basic"
	"github.com/arjunmehta/filedex/internal/config"
	"github.com/arjunmehta/filedex/internal/events"
	"github.com/arjunmehta/filedex/internal/fileref"
	"github.com/arjunmehta/filedex/internal/fulltext"
	"github.com/arjunmehta/filedex/internal/pipeline"
	"github.com/arjunmehta/filedex/internal/policy"
	"github.com/arjunmehta/filedex/internal/storage"
	"github.com/arjunmehta/filedex/internal/store"
	"github.com/arjunmehta/filedex/internal/watch"
)

var (
	mineRoot       string
	mineRecurse    bool
	mineJSON       bool
	mineLogFormat  string
	minePoolLimit  int
	mineThrottle   float64
	mineNoWatch    bool
	mineNoFulltext bool
)

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "Crawl and watch a directory tree, mining its metadata",
	RunE:  runMine,
}

var mineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the store's current size and health",
	RunE:  runMineStatus,
}

var mineRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop and re-crawl the store from scratch",
	RunE:  runMineRebuild,
}

func init() {
	rootCmd.AddCommand(mineCmd)
	mineCmd.AddCommand(mineStatusCmd)
	mineCmd.AddCommand(mineRebuildCmd)

	mineCmd.PersistentFlags().StringVarP(&mineRoot, "root", "r", ".", "Root directory to mine")
	mineCmd.PersistentFlags().BoolVar(&mineRecurse, "recurse", true, "Recurse into subdirectories")
	mineCmd.PersistentFlags().BoolVar(&mineJSON, "json", false, "Output as JSON")
	mineCmd.PersistentFlags().StringVar(&mineLogFormat, "log-format", "text", "Log handler format: text or json")

	mineCmd.Flags().IntVar(&minePoolLimit, "pool-limit", 0, "Override the processing pool size (0 = config default)")
	mineCmd.Flags().Float64Var(&mineThrottle, "throttle", -1, "Override the scheduler throttle factor (negative = config default)")
	mineCmd.Flags().BoolVar(&mineNoWatch, "no-watch", false, "Exit once the initial crawl finishes instead of watching")
	mineCmd.Flags().BoolVar(&mineNoFulltext, "no-fulltext", false, "Disable the full-text sidecar for this run")
}

func newLogger(format string) *slog.Logger {
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return slog.New(handler)
}

// stack bundles the collaborators a mine run owns and must close itself;
// Core does not take ownership of the store or the fulltext sidecar,
// since both may outlive one pipeline run (e.g. across `mine rebuild`
// invocations against the same project).
type stack struct {
	store *store.Store
	ft    *fulltext.Index
	core  *pipeline.Core
}

func (s *stack) close() {
	if s.ft != nil {
		s.ft.Close()
	}
	s.store.Close()
}

// buildStack assembles the store, policy filter, monitor, optional
// full-text sidecar and pipeline Core from cfg. onFinished and onProgress
// are wired straight into the pipeline.Config hooks.
func buildStack(cfg *config.Config, log *slog.Logger, onFinished func(events.FinishedStats), onProgress func(events.Progress)) (*stack, error) {
	st, err := store.Open(store.Config{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		FreshCache:   cfg.Store.FreshCache,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	filter, err := policy.New(policy.Config{ExcludePatterns: cfg.Pipeline.ExcludePatterns}, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build policy filter: %w", err)
	}

	mon, err := watch.New(watch.Config{}, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build monitor: %w", err)
	}

	var ft *fulltext.Index
	if cfg.Fulltext.Enabled && !mineNoFulltext {
		ft, err = fulltext.Open(fulltext.Config{Path: cfg.Fulltext.Path}, log)
		if err != nil {
			log.Warn("full-text sidecar unavailable, continuing without it", "error", err)
			ft = nil
		}
	}

	pcfg := pipeline.Config{
		PoolLimit:  cfg.Pipeline.PoolLimit,
		Throttle:   cfg.Pipeline.Throttle,
		OnFinished: onFinished,
		OnProgress: onProgress,
	}
	if minePoolLimit > 0 {
		pcfg.PoolLimit = minePoolLimit
	}
	if mineThrottle >= 0 {
		pcfg.Throttle = mineThrottle
	}

	core := pipeline.New(pcfg, log, st, filter, mon, basic.New(), ft)
	return &stack{store: st, ft: ft, core: core}, nil
}

func loadMineConfig() (*config.Config, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		dirs = nil
	}
	mgr := config.NewManager(dirs, mineRoot)
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return mgr.Get(), nil
}

func runMine(cmd *cobra.Command, args []string) error {
	log := newLogger(mineLogFormat)

	cfg, err := loadMineConfig()
	if err != nil {
		return err
	}

	progress := newProgressLine(cmd.OutOrStdout(), !mineJSON)
	finished := make(chan events.FinishedStats, 1)

	sk, err := buildStack(cfg, log,
		func(stats events.FinishedStats) {
			progress.finish()
			select {
			case finished <- stats:
			default:
			}
		},
		progress.update,
	)
	if err != nil {
		return err
	}
	defer sk.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(cmd.OutOrStderr(), "\nshutting down...")
		cancel()
	}()

	sk.core.Run(ctx)
	root := fileref.New(mineRoot)
	sk.core.AddDirectory(root, mineRecurse)

	if mineNoWatch {
		select {
		case stats := <-finished:
			reportFinished(cmd, stats)
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), pipeline.ShutdownWatchdog)
		defer shutdownCancel()
		return sk.core.Shutdown(shutdownCtx)
	}

	go func() {
		stats := <-finished
		reportFinished(cmd, stats)
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), pipeline.ShutdownWatchdog)
	defer shutdownCancel()
	return sk.core.Shutdown(shutdownCtx)
}

func reportFinished(cmd *cobra.Command, stats events.FinishedStats) {
	if mineJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		_ = enc.Encode(stats)
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s%sCrawl finished%s in %s: %d files, %d dirs (%d files ignored, %d dirs ignored)\n",
		colorBold, colorGreen, colorReset, stats.Elapsed.Round(time.Millisecond),
		stats.FilesFound, stats.DirectoriesFound, stats.FilesIgnored, stats.DirectoriesIgnored)
}

func runMineStatus(cmd *cobra.Command, args []string) error {
	log := newLogger(mineLogFormat)
	cfg, err := loadMineConfig()
	if err != nil {
		return err
	}

	info, statErr := os.Stat(cfg.Store.Path)
	exists := statErr == nil
	var sizeBytes int64
	if exists {
		sizeBytes = info.Size()
	}

	st, openErr := store.Open(store.Config{Path: cfg.Store.Path, MaxOpenConns: 1, FreshCache: 100}, log)
	healthy := openErr == nil
	if healthy {
		defer st.Close()
	}

	type statusOutput struct {
		Path    string `json:"path"`
		Exists  bool   `json:"exists"`
		Healthy bool   `json:"healthy"`
		Size    int64  `json:"size_bytes"`
	}
	out := statusOutput{Path: cfg.Store.Path, Exists: exists, Healthy: healthy, Size: sizeBytes}

	if mineJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s%sStore Status%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%sPath:%s    %s\n", colorGray, colorReset, out.Path)
	fmt.Fprintf(w, "%sExists:%s  %v\n", colorGray, colorReset, out.Exists)
	fmt.Fprintf(w, "%sHealthy:%s %v\n", colorGray, colorReset, out.Healthy)
	fmt.Fprintf(w, "%sSize:%s    %d bytes\n", colorGray, colorReset, out.Size)
	return nil
}

func runMineRebuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadMineConfig()
	if err != nil {
		return err
	}

	if err := os.Remove(cfg.Store.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing store: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s%sRebuilding%s %s\n", colorBold, colorCyan, colorReset, cfg.Store.Path)

	mineNoWatch = true
	return runMine(cmd, args)
}

// progressLine renders an in-place terminal progress line, its width
// governed by the current terminal size where one is available.
type progressLine struct {
	w       *os.File
	enabled bool
	lastLen int
}

func newProgressLine(w interface{ Write([]byte) (int, error) }, enabled bool) *progressLine {
	f, isFile := w.(*os.File)
	if !isFile {
		enabled = false
	}
	return &progressLine{w: f, enabled: enabled}
}

func (p *progressLine) update(prog events.Progress) {
	if !p.enabled {
		return
	}
	width := 80
	if w, _, err := term.GetSize(int(p.w.Fd())); err == nil && w > 0 {
		width = w
	}
	stats := prog.Cumulative
	line := fmt.Sprintf("\r%s%3.0f%%%s  %sfiles:%s %d  %sdirs:%s %d  %signored:%s %d",
		colorBold, prog.Ratio*100, colorReset,
		colorGray, colorReset, stats.FilesFound,
		colorGray, colorReset, stats.DirectoriesFound,
		colorGray, colorReset, stats.FilesIgnored+stats.DirectoriesIgnored)
	if len(line) > width {
		line = line[:width]
	}
	if p.lastLen > len(line) {
		line += strings.Repeat(" ", p.lastLen-len(line))
	}
	p.lastLen = len(line)
	fmt.Fprint(p.w, line)
}

func (p *progressLine) finish() {
	if !p.enabled {
		return
	}
	fmt.Fprint(p.w, "\r"+strings.Repeat(" ", p.lastLen)+"\r")
	p.lastLen = 0
}
