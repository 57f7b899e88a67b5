package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"image-audit/pkg/config"
	"image-audit/pkg/content"
	"image-audit/pkg/extract"
	"image-audit/pkg/locate"
	"image-audit/pkg/metrics"
	"image-audit/pkg/models"
	"image-audit/pkg/registry"
	"image-audit/pkg/scan"
	"image-audit/pkg/stats"
	"image-audit/pkg/storage"
	"image-audit/pkg/utils"
	"image-audit/pkg/watch"
)

const version = "0.4.1"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "scan-item":
		runScanItem(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("image-audit %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `image-audit - Site image discovery and alt-text audit

Usage:
  image-audit <command> [options]

Commands:
  scan       Run a full-site image scan
  scan-item  Rescan a single content item
  stats      Print the alt-text coverage report
  watch      Run periodic scans, sweeps, and purges
  validate   Validate configuration file
  version    Show version info

Run 'image-audit <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		logger.SetLevel(level)
	}

	return logger
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, logger *logrus.Logger) *config.AppConfig {
	logger.Infof("Loading configuration from %s", configFile)
	cfg, err := loadConfig(configFile)
	if err != nil {
		logger.Fatalf("Config error: %v", err)
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		logger.Fatalf("Config validation error: %v", err)
	}

	return cfg
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, logger *logrus.Logger) {
	if addr != "" {
		go func() {
			logger.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetrics exposes the Prometheus registry if addr is non-empty.
func startMetrics(addr string, logger *logrus.Logger) {
	if addr != "" {
		go func() {
			logger.Infof("Serving metrics at http://%s/metrics", addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Errorf("metrics server error: %v", err)
			}
		}()
	}
}

// app bundles the wired components behind one Close
type app struct {
	cfg          *config.AppConfig
	store        *storage.BadgerStore
	orchestrator *scan.Orchestrator
	reporter     *stats.Reporter
	logger       *logrus.Logger
}

// buildApp wires the full component graph from the config: the site export
// content store, the badger-backed audit store, locator, registry, extractor
// set, orchestrator, and stats reporter.
func buildApp(cfg *config.AppConfig, logger *logrus.Logger) (*app, error) {
	metrics.Init()

	if cfg.SiteExport == "" {
		return nil, fmt.Errorf("config is missing site_export, nothing to scan")
	}
	contentStore, mediaLib, err := content.LoadFileStore(cfg.SiteExport)
	if err != nil {
		return nil, fmt.Errorf("load site export: %w", err)
	}

	store, err := storage.NewBadgerStore(cfg.StateDir, logger.WithField("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	locator := locate.NewLocator(store, mediaLib, logger.WithField("component", "locate"))
	reg := registry.NewRegistry(store, locator, mediaLib, logger.WithField("component", "registry"))
	extractors := extract.NewSet(*cfg, mediaLib, logger.WithField("component", "extract"))
	widgets := extract.NewWidgetScanner(cfg.Extractors.ScanStylesEnabled(), logger.WithField("component", "extract"))
	theme := extract.NewThemeScanner(mediaLib, logger.WithField("component", "extract"))

	orchestrator := scan.NewOrchestrator(
		*cfg, contentStore, reg, locator, extractors, widgets, theme,
		store, store, logger.WithField("component", "scan"),
	)
	reporter := stats.NewReporter(store, store, cfg.StatsCacheTTL, logger.WithField("component", "stats"))

	return &app{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		reporter:     reporter,
		logger:       logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Errorf("Error closing state store: %v", err)
	}
}

// cancelOnSignal returns a context cancelled by SIGINT/SIGTERM
func cancelOnSignal(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	return ctx, cancel
}

// runScan handles the scan subcommand
func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	metricsAddr := fs.String("metrics", "", "Prometheus metrics address (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: image-audit scan [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	cfg := loadAndValidateConfig(*configFile, logger)
	startPprof(*pprofAddr, logger)
	startMetrics(*metricsAddr, logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Startup error: %v", err)
	}
	defer a.Close()

	gcCtx, gcCancel := context.WithCancel(context.Background())
	defer gcCancel()
	go a.store.RunGC(gcCtx, 5*time.Minute)

	ctx, cancel := cancelOnSignal(logger)
	defer cancel()

	result, err := a.orchestrator.ScanAll(ctx)
	if err != nil && !errors.Is(err, utils.ErrResourceExhaustion) {
		logger.Fatalf("Scan failed: %v", err)
	}
	a.reporter.Invalidate()

	printScanResult(os.Stdout, result)
	if !result.Success {
		os.Exit(1)
	}
}

// runScanItem handles the scan-item subcommand
func runScanItem(args []string) {
	fs := flag.NewFlagSet("scan-item", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	itemID := fs.Int64("item", 0, "Content item id to rescan (required)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: image-audit scan-item [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  image-audit scan-item -item 42\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *itemID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -item is required")
		fs.Usage()
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	cfg := loadAndValidateConfig(*configFile, logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Startup error: %v", err)
	}
	defer a.Close()

	ctx, cancel := cancelOnSignal(logger)
	defer cancel()

	result, err := a.orchestrator.ScanOne(ctx, *itemID)
	if err != nil {
		if errors.Is(err, utils.ErrLocked) {
			logger.Warnf("Item %d is locked by a concurrent scan, nothing to do", *itemID)
			return
		}
		logger.Fatalf("Scan failed: %v", err)
	}
	a.reporter.Invalidate()

	printScanResult(os.Stdout, result)
}

// runStats handles the stats subcommand
func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")
	asJSON := fs.Bool("json", false, "Print the report as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: image-audit stats [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	cfg := loadAndValidateConfig(*configFile, logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Startup error: %v", err)
	}
	defer a.Close()

	report, err := a.reporter.Coverage()
	if err != nil {
		logger.Fatalf("Coverage report failed: %v", err)
	}

	if *asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Fatalf("Encoding report failed: %v", err)
		}
		fmt.Println(string(data))
		return
	}
	printCoverageReport(os.Stdout, report)
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	interval := fs.String("interval", "", "Full scan interval override (e.g., 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	metricsAddr := fs.String("metrics", "", "Prometheus metrics address (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: image-audit watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  image-audit watch -interval 6h\n")
		fmt.Fprintf(os.Stderr, "  image-audit watch -metrics localhost:9090\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	cfg := loadAndValidateConfig(*configFile, logger)

	if *interval != "" {
		parsed, err := watch.ParseInterval(*interval)
		if err != nil {
			logger.Fatalf("Invalid interval: %v", err)
		}
		cfg.ScanInterval = parsed
	}
	logger.Infof("Full scan interval: %s", watch.FormatInterval(cfg.ScanInterval))

	startPprof(*pprofAddr, logger)
	startMetrics(*metricsAddr, logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Startup error: %v", err)
	}
	defer a.Close()

	gcCtx, gcCancel := context.WithCancel(context.Background())
	defer gcCancel()
	go a.store.RunGC(gcCtx, 5*time.Minute)

	scheduler := watch.NewScheduler(*cfg, a.orchestrator, logger.WithField("component", "watch"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal %v, stopping watch...", sig)
		scheduler.Stop()
	}()

	if err := scheduler.Run(); err != nil {
		logger.Fatalf("Watch scheduler error: %v", err)
	}
	logger.Info("Watch mode stopped")
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: image-audit validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Configuration valid.")
	return 0
}

func printScanResult(w io.Writer, result *models.ScanResult) {
	fmt.Fprintf(w, "Run %s\n", result.RunID)
	fmt.Fprintf(w, "  items processed: %d\n", result.ItemsProcessed)
	fmt.Fprintf(w, "  items failed:    %d\n", result.ItemsFailed)
	fmt.Fprintf(w, "  images found:    %d\n", result.ImagesFound)
	fmt.Fprintf(w, "  duration:        %s\n", result.Duration.Round(time.Millisecond))
	if result.Aborted {
		fmt.Fprintln(w, "  stopped early: resource budget reached, partial results kept")
	}
}

func printCoverageReport(w io.Writer, report *models.CoverageReport) {
	fmt.Fprintf(w, "Alt-text coverage (generated %s)\n\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  overall: %d/%d (%.1f%%)\n", report.Overall.WithAlt, report.Overall.Total, report.Overall.Coverage*100)

	printGroups(w, "by content type", report.ByContentType)
	printGroups(w, "by context", report.ByContext)
}

func printGroups(w io.Writer, heading string, groups map[string]models.CoverageGroup) {
	if len(groups) == 0 {
		return
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "\n  %s:\n", heading)
	for _, key := range keys {
		group := groups[key]
		fmt.Fprintf(w, "    %-14s %d/%d (%.1f%%)\n", key, group.WithAlt, group.Total, group.Coverage*100)
	}
}
