// Package main is the Mitsuke CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/cache"
	"github.com/hyperjump/mitsuke/internal/cli"
	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/embedding"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/registry"
	"github.com/hyperjump/mitsuke/internal/scan"
	"github.com/hyperjump/mitsuke/internal/search"
	"github.com/hyperjump/mitsuke/internal/server"
	"github.com/hyperjump/mitsuke/internal/source"
	"github.com/hyperjump/mitsuke/internal/watcher"
	"github.com/hyperjump/mitsuke/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mitsuke/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "scan":
		runScan()
	case "enroll":
		runEnroll()
	case "people":
		runPeople()
	case "ingest":
		runIngest()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("mitsuke version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Provider embedding.Provider
	Frames   *source.FrameStore
	People   *registry.Registry
	Features *cache.Store
	Engine   *search.Engine
}

func (c *Components) Close() {
	if c.Frames != nil {
		_ = c.Frames.Close()
	}
	if c.Provider != nil {
		_ = c.Provider.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	frames, err := source.OpenFrameStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame store: %w", err)
	}

	var provider embedding.Provider
	if cfg.Provider.ONNXModelPath != "" {
		onnx, err := embedding.NewONNXProvider(cfg.Provider.ONNXModelPath, cfg.Provider.Dimensions)
		if err != nil {
			_ = frames.Close()
			return nil, fmt.Errorf("failed to load local model: %w", err)
		}
		provider = onnx
		logger.Info("using local visual encoder", zap.String("model", cfg.Provider.ONNXModelPath))
	} else {
		client, err := embedding.NewSidecarClient(
			cfg.Provider.SidecarURL,
			cfg.Provider.Dimensions,
			time.Duration(cfg.Provider.TimeoutSec)*time.Second,
		)
		if err != nil {
			_ = frames.Close()
			return nil, fmt.Errorf("failed to create sidecar client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.WaitForReady(ctx, 30*time.Second); err != nil {
			logger.Warn("encoding sidecar not ready, requests will fail until it is",
				zap.String("url", cfg.Provider.SidecarURL), zap.Error(err))
		} else {
			logger.Info("encoding sidecar ready",
				zap.String("url", cfg.Provider.SidecarURL),
				zap.Bool("faces", client.FacesAvailable()))
		}
		provider = client
	}

	people := registry.Open(cfg.Store.RegistryPath)
	features := cache.Open(cfg.Store.CachePath)
	engine := search.NewEngine(provider, frames, people, features, cfg.Store, cfg.Search,
		search.WithLogger(logger))

	return &Components{
		Provider: provider,
		Frames:   frames,
		People:   people,
		Features: features,
		Engine:   engine,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watch := watcher.New(components.Features, cfg.Watch.Directories, cfg.Watch.RecursiveOrDefault(), watchOpts...)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watch.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.NewServer(components.Engine, watch, cfg, resolvedConfigPath, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	if err := components.Features.Persist(); err != nil {
		logger.Warn("feature cache persist failed", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// argsReorder moves any flags (and their values) that appear after positional
// arguments to the front so flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins all positional args with spaces so multi-word queries work
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runSearch() {
	searchArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8002", "server URL (empty = direct store access)")
	limit := fs.Int("limit", 0, "number of results (0 = configured default)")
	minScore := fs.Float64("min-score", -2, "minimum similarity score (unset = configured default)")
	cameras := fs.String("cameras", "", "comma-separated camera ids to filter")
	startTime := fs.String("start", "", "start of time range (YYYY-MM-DDTHH:MM:SS or YYYY-MM-DD)")
	endTime := fs.String("end", "", "end of time range; date-only extends to end of day")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgs)

	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: mitsuke search [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	req := &models.TextSearchRequest{
		Query: queryStr,
		Limit: *limit,
		Filter: models.FrameFilter{
			StartTime: *startTime,
			EndTime:   *endTime,
		},
	}
	if *cameras != "" {
		req.Filter.CameraIDs = strings.Split(*cameras, ",")
	}
	if *minScore >= -1 {
		req.MinScore = minScore
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		response, err = components.Engine.SearchByText(context.Background(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, req *models.TextSearchRequest) (*models.SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search/text", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runScan() {
	scanArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	person := fs.String("person", "", "scan for an enrolled person instead of a text query")
	limit := fs.Int("limit", 0, "number of results (0 = unbounded)")
	thresholdPct := fs.Float64("threshold", 0, "keep results within this percent of the best score (0 = configured default)")
	maxDistance := fs.Float64("max-distance", 0, "maximum face distance for person scans (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mitsuke scan [flags] <directory> [query...]\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(scanArgs)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	dir := fs.Arg(0)
	queryStr := buildQuery(fs.Args()[1:])
	if (queryStr == "") == (*person == "") {
		fmt.Println("Provide either a text query or --person, not both.")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	// Ctrl-C cancels the scan; already-computed features stay cached.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := search.ScanOptions{
		Limit:        *limit,
		ThresholdPct: *thresholdPct,
		MaxDistance:  *maxDistance,
	}
	if format == cli.OutputText {
		opts.OnProgress = func(p scan.Progress) {
			cli.WriteProgress(os.Stderr, p)
		}
	}

	var result *scan.Result
	if *person != "" {
		result, err = components.Engine.ScanForPerson(ctx, dir, *person, opts)
	} else {
		result, err = components.Engine.ScanByText(ctx, dir, queryStr, opts)
	}
	if format == cli.OutputText {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if result != nil && result.Summary != "" {
			fmt.Fprintln(os.Stderr, result.Summary)
		}
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteScanResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runEnroll() {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Println("Usage: mitsuke enroll [flags] <name> <photo>")
		os.Exit(1)
	}
	name := fs.Arg(0)
	photo, _ := filepath.Abs(fs.Arg(1))

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := components.Engine.EnrollPerson(context.Background(), name, photo); err != nil {
		fmt.Fprintf(os.Stderr, "Enrollment failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Enrolled %s from %s (%d embeddings total)\n", name, photo, components.People.Count(name))
}

func runPeople() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: mitsuke people <list|remove|remove-embedding> [args]")
		fmt.Println("  mitsuke people list                          List enrolled people")
		fmt.Println("  mitsuke people remove <name>                 Remove a person")
		fmt.Println("  mitsuke people remove-embedding <name> <src> Remove one enrollment by source photo")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("people", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[3:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	people := registry.Open(cfg.Store.RegistryPath)

	switch sub {
	case "list":
		names := people.List()
		if len(names) == 0 {
			fmt.Println("No people enrolled.")
			return
		}
		for _, n := range names {
			fmt.Printf("%s  (%d embeddings)\n", n, people.Count(n))
		}
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: mitsuke people remove <name>")
			os.Exit(1)
		}
		name := fs.Arg(0)
		if err := people.Remove(name); err != nil {
			fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", name)
	case "remove-embedding":
		if fs.NArg() < 2 {
			fmt.Println("Usage: mitsuke people remove-embedding <name> <source>")
			os.Exit(1)
		}
		name, src := fs.Arg(0), fs.Arg(1)
		if err := people.RemoveEmbedding(name, src); err != nil {
			fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed embedding %s from %s\n", src, name)
	default:
		fmt.Printf("Unknown people subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runIngest() {
	ingestArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	camera := fs.String("camera", "", "camera id to store frames under (required)")
	_ = fs.Parse(ingestArgs)

	if fs.NArg() < 1 || *camera == "" {
		fmt.Println("Usage: mitsuke ingest --camera <id> <directory>")
		os.Exit(1)
	}
	dir, _ := filepath.Abs(fs.Arg(0))

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	n, err := components.Engine.IngestFrames(context.Background(), dir, *camera)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed after %d frame(s): %v\n", n, err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d frame(s) from %s under camera %s\n", n, dir, *camera)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8002", "server URL (empty = direct store access)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *search.Status
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		status, err = components.Engine.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("frames:        %d   # stored frame embeddings\n", status.Frames)
		fmt.Printf("cached_items:  %d   # entries in the feature cache\n", status.CachedItems)
		fmt.Printf("people:        %d   # enrolled reference sets\n", len(status.People))
		for _, p := range status.People {
			fmt.Printf("  - %s\n", p)
		}
		fmt.Println()
		fmt.Println("# disk usage")
		fmt.Printf("database_bytes:  %d\n", status.DatabaseBytes)
		fmt.Printf("cache_bytes:     %d\n", status.CacheBytes)
		fmt.Printf("registry_bytes:  %d\n", status.RegistryBytes)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*search.Status, error) {
	u, err := url.JoinPath(serverURL, "/api/v1/status")
	if err != nil {
		return nil, err
	}
	resp, err := http.Get(u)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Frames      int64    `json:"frames"`
		CachedItems int      `json:"cached_items"`
		People      []string `json:"people"`
		DiskUsage   struct {
			Database int64 `json:"database"`
			Cache    int64 `json:"cache"`
			Registry int64 `json:"registry"`
		} `json:"disk_usage_bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &search.Status{
		Frames:        out.Frames,
		CachedItems:   out.CachedItems,
		People:        out.People,
		DatabaseBytes: out.DiskUsage.Database,
		CacheBytes:    out.DiskUsage.Cache,
		RegistryBytes: out.DiskUsage.Registry,
	}, nil
}

func printUsage() {
	fmt.Println(`mitsuke - Local semantic search over camera frames and photo directories

Usage:
  mitsuke server [flags]                 Start the HTTP server
  mitsuke search [flags] <query>         Search stored frames by text
  mitsuke scan [flags] <dir> [query...]  Scan a directory by text query or --person
  mitsuke enroll [flags] <name> <photo>  Enroll a person from a single-face photo
  mitsuke people <list|remove|remove-embedding>  Manage enrolled people
  mitsuke ingest --camera <id> <dir>     Embed a directory of frames into the store
  mitsuke status [flags]                 Show store and cache status
  mitsuke version                        Show version
  mitsuke help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/mitsuke/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --server string    Server URL (default: http://localhost:8002). Empty = direct store access.
  --limit int        Number of results
  --min-score float  Minimum similarity score (default from config)
  --cameras string   Comma-separated camera ids
  --start string     Start of time range
  --end string       End of time range (date-only extends to end of day)
  --output string    Output format: text or json

Scan Flags:
  --person string       Scan for an enrolled person instead of a text query
  --limit int           Number of results (0 = unbounded)
  --threshold float     Keep results within this percent of the best score
  --max-distance float  Maximum face distance for person scans
  --output string       Output format: text or json

Examples:
  mitsuke server
  mitsuke search "red car in the driveway"
  mitsuke search --cameras front_door,garage --start 2026-03-01 --end 2026-03-02 "delivery van"
  mitsuke scan ~/Pictures a dog on the beach
  mitsuke scan --person alice ~/Pictures/holiday
  mitsuke enroll alice ~/Pictures/alice.jpg
  mitsuke ingest --camera front_door /var/frames/front_door
  mitsuke status --output json`)
}
