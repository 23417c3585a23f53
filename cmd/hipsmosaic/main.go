// Command hipsmosaic builds centered HiPS mosaics around sky targets.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"hips-mosaic/internal/cache"
	"hips-mosaic/internal/catalog"
	"hips-mosaic/internal/config"
	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/hips"
	"hips-mosaic/internal/pipeline"
	"hips-mosaic/internal/ratelimit"
	"hips-mosaic/internal/report"
	"hips-mosaic/internal/telemetry"
)

// AppVersion is reported to telemetry and by the version command.
const AppVersion = "0.4.0"

const usage = `usage: hipsmosaic <command> [flags]

commands:
  mosaic    build mosaics for one or more targets
  pixel     show the HEALPix pixel and neighbors of a position
  surveys   list known surveys
  targets   list catalog targets
  serve     run the HTTP API
  version   print the version
`

func main() {
	log.SetFlags(log.LstdFlags)
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "mosaic":
		err = mosaicCmd(args[1:], stdout)
	case "pixel":
		err = pixelCmd(args[1:], stdout)
	case "surveys":
		err = surveysCmd(args[1:], stdout)
	case "targets":
		err = targetsCmd(args[1:], stdout)
	case "serve":
		err = serveCmd(args[1:], stdout)
	case "version":
		fmt.Fprintf(stdout, "hipsmosaic %s\n", AppVersion)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err == flag.ErrHelp {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// loadSettings reads the settings file named by -config, or the default one.
func loadSettings(path string) (*config.UserSettings, error) {
	if path == "" {
		settings, err := config.LoadSettings()
		if err != nil {
			return nil, err
		}
		log.Printf("Settings loaded from: %s", config.GetSettingsPath())
		return settings, nil
	}
	return config.LoadSettingsFrom(path)
}

// tables loads the survey registry and target catalog, falling back to the
// built-in ones when no file is configured.
func tables(settings *config.UserSettings) (*hips.Registry, *catalog.Catalog, error) {
	registry := hips.DefaultRegistry()
	if settings.SurveysPath != "" {
		r, err := hips.LoadRegistry(settings.SurveysPath)
		if err != nil {
			return nil, nil, err
		}
		registry = r
	}
	cat := catalog.Default()
	if settings.TargetsPath != "" {
		c, err := catalog.Load(settings.TargetsPath)
		if err != nil {
			return nil, nil, err
		}
		cat = c
	}
	return registry, cat, nil
}

// newClient builds the tile client with rate-limit backoff.
func newClient(settings *config.UserSettings) *hips.Client {
	limiter := ratelimit.NewHandler(ratelimit.DefaultRetryStrategy())
	limiter.SetOnRateLimit(func(e ratelimit.Event) {
		log.Printf("[RateLimit] %s", e.Message)
	})
	limiter.SetOnRecovered(func(survey string) {
		log.Printf("[RateLimit] %s recovered", survey)
	})
	return hips.NewClient(settings.TileTimeout(), limiter)
}

// newPipeline wires every collaborator the settings ask for. The cache and
// store are optional; failures to open them are logged and the run goes on
// without them.
func newPipeline(settings *config.UserSettings, progress func(downloads.DownloadProgress)) (*pipeline.Pipeline, *hips.Client, error) {
	registry, cat, err := tables(settings)
	if err != nil {
		return nil, nil, err
	}
	client := newClient(settings)

	tileCache, err := cache.Open(settings.CacheConfig())
	if err != nil {
		log.Printf("Failed to initialize tile cache: %v", err)
		tileCache = nil
	} else if tileCache != nil {
		log.Printf("Tile cache initialized at %s (max %d MB)", tileCache.GetCachePath(), settings.CacheMaxSizeMB)
	}

	var store *report.Store
	if settings.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(settings.DatabasePath), 0755); err != nil {
			log.Printf("Failed to create database directory: %v", err)
		} else if store, err = report.OpenStore(settings.DatabasePath); err != nil {
			log.Printf("Failed to open run database: %v", err)
			store = nil
		}
	}

	tracker := telemetry.New(settings.TelemetryAPIKey, settings.TelemetryEndpoint, telemetry.InstallID(config.BaseDir()))

	p, err := pipeline.New(settings, pipeline.Deps{
		Registry: registry,
		Catalog:  cat,
		Client:   client,
		Cache:    tileCache,
		Store:    store,
		Tracker:  tracker,
		Progress: progress,
	})
	if err != nil {
		if tileCache != nil {
			tileCache.Close()
		}
		if store != nil {
			store.Close()
		}
		tracker.Close()
		return nil, nil, err
	}
	return p, client, nil
}
