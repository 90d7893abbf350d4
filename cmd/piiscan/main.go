package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hannes/safeshare/config"
	pii "github.com/hannes/safeshare/pii/detectors"
	"github.com/hannes/safeshare/pii/regions"
	"github.com/hannes/safeshare/pipeline"
	"github.com/hannes/safeshare/processor"
	"github.com/hannes/safeshare/scan"
	"github.com/joho/godotenv"
)

// report is the JSON written next to each scanned image
type report struct {
	Image     string         `json:"image"`
	State     scan.State     `json:"state"`
	Result    *pii.PIIResult `json:"result,omitempty"`
	Regions   []pii.Region   `json:"regions"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	Restored  bool           `json:"restored,omitempty"`
	Redacted  string         `json:"redacted,omitempty"`
	ScannedAt time.Time      `json:"scannedAt"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred cleanup and the sentry flush
// happen before the process exits
func run(args []string) int {
	fs := flag.NewFlagSet("piiscan", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "Path to JSON or YAML config file")
		outDir     = fs.String("out", "./out", "Output directory")
		allowCloud = fs.Bool("allow-cloud", false, "Escalate uncertain results to the cloud verifier")
		redact     = fs.Bool("redact", false, "Also write a pixelated copy of each image with PII")
		blockSize  = fs.Int("block", regions.DefaultBlockSize, "Pixelation block size in pixels")
		timeoutSec = fs.Int("timeout", 600, "Timeout in seconds for the whole batch")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: piiscan [flags] image...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	images := fs.Args()
	if len(images) == 0 {
		fs.Usage()
		return 2
	}

	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			log.Printf("Failed to load config file: %v", err)
			return 1
		}
	}
	config.LoadFromEnv(cfg)

	// the CLI does not read or write the UI's settings file
	cfg.SettingsPath = ""
	cfg.Settings.AllowCloud = *allowCloud
	cfg.Scan.SettleDelay = 0

	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("⚠️  Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Printf("mkdir failed: %v", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to create scan pipeline: %v", err)
		return 1
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("Failed to close pipeline: %v", err)
		}
	}()

	paths := make([]string, 0, len(images))
	for _, img := range images {
		abs, err := filepath.Abs(img)
		if err != nil {
			log.Printf("Invalid image path %s: %v", img, err)
			return 1
		}
		paths = append(paths, abs)
	}

	p.Orchestrator.Enqueue(paths...)
	if err := p.Orchestrator.Drain(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("Batch stopped: %v", err)
	}

	failed := 0
	for _, path := range paths {
		result, _ := p.Orchestrator.Session().Get(path)
		rep := newReport(result)

		switch {
		case result.State == scan.StateComplete:
			fmt.Printf("%s: %s\n", path, processor.SummarizeResult(*result.PIIResult))
		case result.Error != "":
			failed++
			fmt.Printf("%s: %s\n", path, result.Error)
		default:
			failed++
			fmt.Printf("%s: not scanned (%s)\n", path, result.State)
		}

		if *redact && result.State == scan.StateComplete && len(result.Regions) > 0 {
			target := outputPath(*outDir, path, ".redacted.png")
			if err := writeRedacted(path, target, result.Regions, *blockSize); err != nil {
				log.Printf("❌ Failed to redact %s: %v", path, err)
			} else {
				rep.Redacted = target
			}
		}

		if err := writeReport(outputPath(*outDir, path, ".pii.json"), rep); err != nil {
			log.Printf("❌ Failed to write report for %s: %v", path, err)
		}
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func newReport(r scan.Result) report {
	return report{
		Image:     r.ImageURI,
		State:     r.State,
		Result:    r.PIIResult,
		Regions:   r.Regions,
		Error:     r.Error,
		Attempts:  r.Attempts,
		Restored:  r.Restored,
		ScannedAt: time.Now().UTC(),
	}
}

// outputPath names an output file after the image, e.g. out/card.pii.json
func outputPath(outDir, image, suffix string) string {
	base := filepath.Base(image)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+suffix)
}

func writeReport(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func writeRedacted(src, dst string, areas []pii.Region, blockSize int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	img, _, err := regions.DecodeImage(in)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := regions.EncodeImage(out, regions.Redact(img, areas, blockSize), "png"); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
