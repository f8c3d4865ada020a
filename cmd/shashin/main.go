// Package main is the Shashin CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/keyword"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/people"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shashin/config.yaml"

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
	case "index":
		runIndex()
	case "register":
		runRegister()
	case "people":
		runPeople()
	case "find":
		runFind()
	case "semantic":
		runSemantic()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds all initialized engine components.
type Components struct {
	Store        storage.Store
	Adapter      embedding.Adapter
	VectorIndex  vector.Index
	KeywordIndex keyword.Index
	Registry     *people.Registry
	Builder      *indexer.Builder
	Engine       *search.Engine
}

// Close closes all components.
func (c *Components) Close() {
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Adapter != nil {
		_ = c.Adapter.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// initializeComponents wires up storage, the embedding adapter, indices, and
// the query engine. The persisted vector index is loaded when present; the
// engine is nil until an index exists.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// A broken embedding model must never degrade into fake results: the
	// mock adapter has to be opted into by name.
	if err := cfg.Embedding.ValidateAdapter(); err != nil {
		_ = store.Close()
		return nil, err
	}
	var adapter embedding.Adapter
	switch cfg.Embedding.Adapter {
	case "mock":
		logger.Warn("using the mock embedding adapter; results are deterministic but not meaningful")
		adapter = embedding.NewMockAdapter(cfg.Embedding.Dimensions)
	default:
		onnxAdapter, err := embedding.NewONNXAdapter(embedding.ONNXConfig{
			ImageModelPath:    cfg.Embedding.ImageModelPath,
			TextModelPath:     cfg.Embedding.TextModelPath,
			DetectorModelPath: cfg.Embedding.DetectorModelPath,
			Dimensions:        cfg.Embedding.Dimensions,
			MaxTokens:         cfg.Embedding.MaxTokens,
			TextCacheSize:     cfg.Embedding.TextCacheSize,
			MinDetScore:       cfg.Embedding.MinDetScore,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize ONNX embedding adapter (set embedding.adapter: mock to run without models): %w", err)
		}
		adapter = onnxAdapter
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c := &Components{
		Store:        store,
		Adapter:      adapter,
		KeywordIndex: keywordIndex,
		Registry:     people.NewRegistry(store, adapter, logger),
		Builder:      indexer.NewBuilder(store, adapter, keywordIndex, cfg, logger),
	}

	vectorIndex, err := vector.NewIndex(cfg.Index.VectorIndexType, cfg.Embedding.Dimensions)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
		// Only a genuinely absent index means "not built yet". Corruption or a
		// dimension mismatch must abort, not masquerade as a fresh install.
		if !errors.Is(loadErr, models.ErrNotFound) {
			_ = vectorIndex.Close()
			c.Close()
			return nil, fmt.Errorf("failed to load vector index: %w", loadErr)
		}
		logger.Info("no persisted vector index yet (run a build first)",
			zap.String("path", cfg.Storage.VectorIndexPath))
		_ = vectorIndex.Close()
	} else {
		c.VectorIndex = vectorIndex
		c.Engine = search.NewEngine(store, adapter, vectorIndex, keywordIndex, &cfg.Search, logger)
		logger.Info("vector index loaded",
			zap.String("type", cfg.Index.VectorIndexType),
			zap.Int("size", vectorIndex.Size()),
			zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	}

	return c, nil
}

func setupLogger(cfg *config.Config, debugFlag bool) *zap.Logger {
	logger, err := utils.NewLogger(cfg.Debug || debugFlag)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
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
	logger := setupLogger(cfg, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("mode", cfg.Index.Mode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Store,
		components.Registry,
		components.Builder,
		components.Adapter,
		components.KeywordIndex,
		components.VectorIndex,
		cfg,
		logger,
	)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled && cfg.Index.PhotoDirectory != "" {
		watchSvc := watcher.NewWatcher(
			cfg.Index.PhotoDirectory,
			cfg.Index.Extensions,
			cfg.Index.RecursiveOrDefault(),
			time.Duration(cfg.Watch.DebounceSec)*time.Second,
			func() {
				if _, err := srv.Rebuild(context.Background()); err != nil {
					logger.Warn("watch-triggered rebuild failed", zap.Error(err))
				}
			},
			logger,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	photoDir := fs.String("dir", "", "photo directory (overrides config)")
	mode := fs.String("mode", "", "index mode: face or full_image (overrides config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *photoDir != "" {
		cfg.Index.PhotoDirectory = *photoDir
	}
	if *mode != "" {
		cfg.Index.Mode = *mode
	}
	logger := setupLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	idx, report, err := components.Builder.Build(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Index build failed: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	fmt.Printf("Build %s finished: mode=%s processed=%d skipped=%d entries=%d duration=%s\n",
		report.RunID, report.Mode, report.ProcessedCount, report.SkippedCount,
		report.EntryCount, report.Duration.Round(time.Millisecond))
}

func runRegister() {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = direct storage access)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: shashin register [flags] <name> <image-path>")
		os.Exit(1)
	}
	name := fs.Arg(0)
	imagePath, err := filepath.Abs(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid image path: %v\n", err)
		os.Exit(1)
	}

	if *serverURL != "" {
		body := map[string]string{"name": name, "image_path": imagePath}
		var out map[string]interface{}
		if err := postJSON(*serverURL+"/api/v1/people", body, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
			os.Exit(1)
		}
		if replaced, _ := out["replaced"].(bool); replaced {
			fmt.Printf("Updated profile for %s\n", name)
		} else {
			fmt.Printf("Registered %s\n", name)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	_, replaced, err := components.Registry.Register(context.Background(), name, imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		os.Exit(1)
	}
	if replaced {
		fmt.Printf("Updated profile for %s\n", name)
	} else {
		fmt.Printf("Registered %s\n", name)
	}
}

func runPeople() {
	fs := flag.NewFlagSet("people", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	remove := fs.String("remove", "", "remove the named person instead of listing")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if *remove != "" {
		if err := components.Registry.Remove(ctx, *remove); err != nil {
			fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %s\n", *remove)
		return
	}

	profiles, err := components.Registry.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Println("No people registered")
		return
	}
	for _, p := range profiles {
		fmt.Printf("%-20s %s (registered %s)\n", p.Name, p.ImagePath, p.RegisteredAt.Format(time.RFC3339))
	}
}

func runFind() {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = direct storage access)")
	activity := fs.String("activity", "", "activity description (combined search when set)")
	threshold := fs.Float64("threshold", 0, "face similarity threshold (0 = config default)")
	limit := fs.Int("limit", 0, "max results (0 = config default)")
	asJSON := fs.Bool("json", false, "output JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: shashin find [flags] <name>")
		os.Exit(1)
	}
	name := strings.TrimSpace(strings.Join(fs.Args(), " "))

	var faceThreshold *float64
	if *threshold > 0 {
		faceThreshold = threshold
	}

	if *serverURL != "" {
		endpoint := *serverURL + "/api/v1/search/person"
		body := map[string]interface{}{"name": name, "limit": *limit}
		if *activity != "" {
			endpoint = *serverURL + "/api/v1/search/activity"
			body["activity"] = *activity
		}
		if faceThreshold != nil {
			body["face_threshold"] = *faceThreshold
		}
		var resp models.SearchResponse
		if err := postJSON(endpoint, body, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		printMatches(&resp, *asJSON)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if components.Engine == nil {
		fmt.Fprintln(os.Stderr, "No index has been built; run 'shashin index' first")
		os.Exit(1)
	}

	opts := &search.Options{FaceThreshold: faceThreshold, Limit: *limit}
	ctx := context.Background()
	var resp *models.SearchResponse
	if *activity != "" {
		resp, err = components.Engine.SearchByNameAndActivity(ctx, name, *activity, opts)
	} else {
		resp, err = components.Engine.SearchByName(ctx, name, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	printMatches(resp, *asJSON)
}

func runSemantic() {
	fs := flag.NewFlagSet("semantic", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = direct storage access)")
	threshold := fs.Float64("threshold", 0, "similarity threshold (0 = config default)")
	limit := fs.Int("limit", 0, "max results (0 = config default)")
	asJSON := fs.Bool("json", false, "output JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: shashin semantic [flags] <description>")
		os.Exit(1)
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))

	var semThreshold *float64
	if *threshold > 0 {
		semThreshold = threshold
	}

	if *serverURL != "" {
		body := map[string]interface{}{"text": text, "limit": *limit}
		if semThreshold != nil {
			body["threshold"] = *semThreshold
		}
		var resp models.SearchResponse
		if err := postJSON(*serverURL+"/api/v1/search/semantic", body, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		printMatches(&resp, *asJSON)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()
	if components.Engine == nil {
		fmt.Fprintln(os.Stderr, "No index has been built; run 'shashin index' first")
		os.Exit(1)
	}

	resp, err := components.Engine.SearchSemantic(context.Background(), text,
		&search.Options{SemanticThreshold: semThreshold, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	printMatches(resp, *asJSON)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		if u, err := url.Parse(*serverURL); err == nil && u.Host != "" {
			resp, err := http.Get(*serverURL + "/api/v1/status")
			if err == nil {
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				var pretty bytes.Buffer
				if json.Indent(&pretty, body, "", "  ") == nil {
					fmt.Println(pretty.String())
				} else {
					fmt.Println(string(body))
				}
				return
			}
			// Server not running; fall through to direct storage.
		}
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg, false)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	records, _ := components.Store.CountRecords(ctx)
	profiles, _ := components.Store.ListProfiles(ctx)
	fmt.Printf("Records:  %d\n", records)
	fmt.Printf("People:   %d\n", len(profiles))
	if manifest, err := components.Store.Manifest(ctx); err == nil {
		fmt.Printf("Index:    mode=%s entries=%d dims=%d built=%s\n",
			manifest.Mode, manifest.EntryCount, manifest.Dimensions,
			manifest.BuiltAt.Format(time.RFC3339))
	} else {
		fmt.Println("Index:    not built")
	}
	if diskBytes, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath, cfg.Storage.VectorIndexPath, cfg.Storage.BleveIndexPath,
	); err == nil {
		fmt.Printf("Disk:     %.1f MB\n", float64(diskBytes)/(1024*1024))
	}
}

// printMatches renders a search response as a table or JSON.
func printMatches(resp *models.SearchResponse, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}
	if len(resp.Matches) == 0 {
		fmt.Println("No matches")
		return
	}
	for _, m := range resp.Matches {
		switch {
		case m.CombinedScore != nil && m.ActivitySimilarity != nil:
			fmt.Printf("%3d. %.3f (face %.3f, activity %.3f)  %s\n",
				m.Rank, *m.CombinedScore, m.FaceSimilarity, *m.ActivitySimilarity, m.ImagePath)
		case m.FaceSimilarity > 0:
			fmt.Printf("%3d. %.3f  %s\n", m.Rank, m.FaceSimilarity, m.ImagePath)
		default:
			fmt.Printf("%3d. %.3f  %s\n", m.Rank, m.Similarity, m.ImagePath)
		}
	}
	fmt.Printf("\n%d match(es) in %dms", resp.Total, resp.QueryTime)
	if resp.SkippedCandidates > 0 {
		fmt.Printf(" (%d candidate(s) skipped: unreadable images)", resp.SkippedCandidates)
	}
	fmt.Println()
}

// postJSON posts a JSON body and decodes the JSON response into out.
func postJSON(endpoint string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printUsage() {
	fmt.Println(`shashin - Person and activity photo retrieval engine

Usage:
  shashin server [flags]                    Start the HTTP server
  shashin index [flags]                     Build the photo embedding index
  shashin register [flags] <name> <image>   Register a person from a reference photo
  shashin people [flags]                    List registered people (-remove <name> to delete)
  shashin find [flags] <name>               Find photos of a person (-activity "..." for combined search)
  shashin semantic [flags] <description>    Find photos by description (full_image index)
  shashin status [flags]                    Show index and storage status
  shashin version                           Show version

Flags (per command):
  -config <path>     Config file (default /usr/local/etc/shashin/config.yaml,
                     falls back to ./config.yaml for development)
  -server <url>      Use a running server's HTTP API instead of direct storage
  -debug             Enable debug logging

Examples:
  shashin index -dir ~/Photos -mode face
  shashin register "Ana" ~/Photos/ana-closeup.jpg
  shashin find Ana
  shashin find Ana -activity "riding a bicycle"
  shashin semantic "sunset over the beach"`)
}
