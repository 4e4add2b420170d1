package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maltedev/shop-image-collector/internal/app"
	"github.com/maltedev/shop-image-collector/internal/config"
	"github.com/maltedev/shop-image-collector/internal/hub"
	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/maltedev/shop-image-collector/pkg/logger"
)

func main() {
	var (
		urls      = flag.String("urls", "", "Comma-separated list of product URLs")
		inputFile = flag.String("file", "", "File containing product URLs (one per line)")
		maxImages = flag.Int("max-images", 0, "Maximum images per product (0 uses COLLECT_MAX_IMAGES)")
		timeout   = flag.Duration("timeout", 0, "Per-URL timeout (0 uses COLLECT_TIMEOUT)")
		details   = flag.Bool("details", true, "Include detail images")
		reviews   = flag.Bool("reviews", false, "Include review images")
		browser   = flag.Bool("browser", false, "Enable the render strategies")
		workers   = flag.Int("concurrency", 2, "Number of URLs collected in parallel")
		pretty    = flag.Bool("pretty", false, "Indent JSON output")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *browser {
		cfg.Browser.Enabled = true
	}
	// Run history belongs to the server; the CLI never records runs.
	cfg.Database.URL = ""

	// Results go to stdout, so diagnostics stay on stderr.
	log := logger.New(os.Stderr, cfg.Logging.Level, "text")

	targets, err := collectTargets(*urls, *inputFile, flag.Args())
	if err != nil {
		log.Error("failed to read input", "error", err)
		os.Exit(1)
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "usage: collect [-urls a,b] [-file urls.txt] [url ...]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	collector, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize collector", "error", err)
		os.Exit(1)
	}

	opts := collector.DefaultOptions()
	if *maxImages > 0 {
		opts.MaxImages = *maxImages
	}
	if *timeout > 0 {
		opts.Timeout = *timeout
	}
	opts.IncludeDetails = *details
	opts.IncludeReviews = *reviews

	start := time.Now()
	failed, err := run(ctx, collector.Hub, targets, &opts, *workers, os.Stdout, *pretty)
	if err != nil {
		log.Error("failed to write results", "error", err)
	}

	collector.Close()

	log.Info("collection finished", "urls", len(targets), "failed", failed, "elapsed", time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		os.Exit(1)
	}
}

// BatchCollector is the part of the hub the CLI drives.
type BatchCollector interface {
	CollectBatch(ctx context.Context, urls []string, opts *models.Options, concurrency int) []hub.BatchItem
}

// run collects targets and writes one JSON document per URL to out. It
// returns the number of failed collections.
func run(ctx context.Context, c BatchCollector, targets []string, opts *models.Options, workers int, out io.Writer, pretty bool) (int, error) {
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}

	failed := 0
	for _, item := range c.CollectBatch(ctx, targets, opts, workers) {
		if !item.Result.Success {
			failed++
		}
		if err := enc.Encode(item); err != nil {
			return failed, fmt.Errorf("failed to encode result for %s: %w", item.URL, err)
		}
	}
	return failed, nil
}

func collectTargets(list, file string, args []string) ([]string, error) {
	var targets []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			targets = append(targets, u)
		}
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file, err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				targets = append(targets, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
	}

	return append(targets, args...), nil
}
