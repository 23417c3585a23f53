package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"

	"hips-mosaic/internal/config"
	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/pipeline"
	"hips-mosaic/internal/report"
	"hips-mosaic/internal/server"
	"hips-mosaic/internal/sky"
	"hips-mosaic/internal/taskqueue"
)

func mosaicCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("mosaic", flag.ContinueOnError)
	configPath := fs.String("config", "", "settings file")
	ra := fs.String("ra", "", "right ascension (degrees or HH:MM:SS)")
	dec := fs.String("dec", "", "declination (degrees or DD:MM:SS)")
	label := fs.String("name", "", "output label when -ra and -dec are given")
	survey := fs.String("survey", "", "survey id")
	order := fs.Int("order", -1, "HEALPix order (settings default when negative)")
	width := fs.Int("width", 0, "grid width in tiles")
	height := fs.Int("height", 0, "grid height in tiles")
	format := fs.String("format", "", "output format: png, tiles, tiff or both")
	size := fs.Int("size", 0, "centered output size in pixels")
	outDir := fs.String("out", "", "output directory")
	all := fs.Bool("all", false, "run every catalog target")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	if *outDir != "" {
		settings.OutputDir = *outDir
	}

	p, _, err := newPipeline(settings, printProgress(stdout))
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("Failed to close pipeline: %v", err)
		}
	}()

	base := pipeline.Request{
		Survey: *survey, Width: *width, Height: *height,
		Format: *format, OutputSize: *size,
	}
	if *order >= 0 {
		base.Order = pipeline.AtOrder(*order)
	}
	var reqs []pipeline.Request
	switch {
	case *ra != "" || *dec != "":
		req := base
		req.RA, req.Dec, req.Target = *ra, *dec, *label
		reqs = append(reqs, req)
	case *all:
		for _, name := range p.Catalog().Names() {
			req := base
			req.Target = name
			reqs = append(reqs, req)
		}
	default:
		for _, name := range fs.Args() {
			req := base
			req.Target = name
			reqs = append(reqs, req)
		}
	}
	if len(reqs) == 0 {
		return pipeline.ErrNoTarget
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var results []*pipeline.Result
	if len(reqs) == 1 {
		res, err := p.Run(ctx, reqs[0])
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		results, err = p.RunBatch(ctx, reqs)
	}
	for _, res := range results {
		fmt.Fprintln(stdout)
		if werr := report.WriteSummary(stdout, res.Run); werr != nil {
			return werr
		}
	}
	return err
}

// printProgress writes a single updating progress line.
func printProgress(w io.Writer) func(downloads.DownloadProgress) {
	return func(p downloads.DownloadProgress) {
		prefix := ""
		if p.TotalTargets > 1 {
			prefix = fmt.Sprintf("[%d/%d] ", p.CurrentTarget, p.TotalTargets)
		}
		fmt.Fprintf(w, "\r%s%3d%% %s", prefix, p.Percent, p.Status)
		if p.Total > 0 && p.Downloaded >= p.Total {
			fmt.Fprintln(w)
		}
	}
}

func pixelCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("pixel", flag.ContinueOnError)
	order := fs.Int("order", healpix.DefaultOrder, "HEALPix order")
	compassName := fs.String("compass", "", "compass table: formal or legacy")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("pixel needs RA and Dec arguments")
	}

	coord, err := sky.ParseCoordinate(fs.Arg(0), fs.Arg(1), "")
	if err != nil {
		return err
	}
	compass, err := healpix.ParseCompassOrder(*compassName)
	if err != nil {
		return err
	}
	idx := healpix.Nested{}
	pixel, err := idx.SkyToPixel(coord, *order)
	if err != nil {
		return err
	}
	center, err := idx.PixelToSky(pixel, *order)
	if err != nil {
		return err
	}
	resolver, err := healpix.NewResolver(idx, compass)
	if err != nil {
		return err
	}
	nb, err := resolver.Resolve(pixel, *order)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Target:     %s %s\n", sky.FormatRA(coord.RA), sky.FormatDec(coord.Dec))
	fmt.Fprintf(stdout, "Order:      %d (nside %d)\n", *order, healpix.NSide(*order))
	fmt.Fprintf(stdout, "Pixel:      %d\n", pixel)
	fmt.Fprintf(stdout, "Center:     %.6f %.6f\n", center.RA, center.Dec)
	fmt.Fprintf(stdout, "Separation: %.2f arcsec\n", sky.Distance(coord, center).Degrees()*3600)
	fmt.Fprintf(stdout, "Neighbors:  %d\n", nb.Count())
	for _, d := range healpix.Directions {
		p, ok := nb.Get(d)
		if !ok {
			fmt.Fprintf(stdout, "  %-2s  -\n", d)
			continue
		}
		fmt.Fprintf(stdout, "  %-2s  %d\n", d, p)
	}
	return nil
}

func surveysCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("surveys", flag.ContinueOnError)
	configPath := fs.String("config", "", "settings file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	registry, _, err := tables(settings)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFORMAT\tMAX ORDER\tNAME")
	for _, s := range registry.All() {
		marker := ""
		if s.ID == settings.DefaultSurvey {
			marker = " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s%s\n", s.ID, s.Format, s.MaxOrder, s.Name, marker)
	}
	return tw.Flush()
}

func targetsCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("targets", flag.ContinueOnError)
	configPath := fs.String("config", "", "settings file")
	kind := fs.String("kind", "", "only show targets of this kind")
	if err := fs.Parse(args); err != nil {
		return err
	}
	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	_, cat, err := tables(settings)
	if err != nil {
		return err
	}

	targets := cat.All()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRA\tDEC\tKIND\tDESCRIPTION")
	for _, t := range targets {
		if *kind != "" && !strings.EqualFold(t.Kind, *kind) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Name, sky.FormatRA(t.RA), sky.FormatDec(t.Dec), t.Kind, t.DisplayName())
	}
	return tw.Flush()
}

func serveCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "settings file")
	addr := fs.String("addr", "", "listen address")
	debug := fs.Bool("debug", false, "gin debug mode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		settings.ServerAddr = *addr
	}
	if !*debug {
		gin.SetMode(gin.ReleaseMode)
	}

	queuePath := filepath.Join(config.BaseDir(), "queue")
	queue := taskqueue.NewQueueManager(queuePath)
	log.Printf("Task queue initialized at %s", queuePath)

	p, client, err := newPipeline(settings, queue.UpdateProgress)
	if err != nil {
		return err
	}
	queue.SetExecutor(p.Run)
	queue.SetOnTaskComplete(func(task taskqueue.MosaicTask) {
		log.Printf("[TaskQueue] %s finished: %s", task.Name, task.Status)
	})
	queue.Start()

	srv := server.New(p, client, queue)
	if err := srv.Start(settings.ServerAddr); err != nil {
		queue.Close()
		p.Close()
		return err
	}
	fmt.Fprintf(stdout, "Serving on %s\n", srv.URL())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	queue.Close()
	return errors.Join(err, p.Close())
}
