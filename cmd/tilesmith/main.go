package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tilesmith/internal/adapters/raster/vecraster"
	"tilesmith/internal/config"
	"tilesmith/internal/geom/proj"
	"tilesmith/internal/output"
	"tilesmith/internal/pkg/logger"
	"tilesmith/internal/pkg/shutdown"
	"tilesmith/internal/render"
)

func main() {
	outDir := flag.String("o", "", "output directory (overrides the job document)")
	workers := flag.Int("workers", 0, "worker count (overrides the job document)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: tilesmith [flags] <job.yaml>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	jobPath := flag.Arg(0)

	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "text"),
		ServiceName: "tilesmith",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting render run", "job", jobPath)

	doc, err := config.Load(jobPath)
	if err != nil {
		log.LogFatal("failed to load job document", err)
	}

	projections := proj.NewCache()
	job, registry, err := config.Build(doc, config.Deps{
		Projections: projections,
		Log:         log,
	})
	if err != nil {
		log.LogFatal("invalid job document", err)
	}
	if *workers > 0 {
		job.Workers = *workers
	}

	dir := doc.Output
	if *outDir != "" {
		dir = *outDir
	}
	if dir == "" {
		dir = "tiles"
	}
	sink, err := output.NewFS(dir)
	if err != nil {
		log.LogFatal("failed to prepare output directory", err)
	}

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	shutdownMgr.RegisterSimple("layer-registry", registry.Close)

	// SIGINT stops scheduling new regions; in-flight regions finish
	// before the run winds down.
	ctx, cancel := shutdownMgr.NotifyContext(context.Background())
	defer cancel()

	orch, err := render.NewOrchestrator(job, render.Deps{
		Sink:        sink,
		Canvas:      vecraster.New,
		Projections: projections,
		Log:         log,
	})
	if err != nil {
		log.LogFatal("failed to build renderer", err)
	}

	run, runErr := orch.Run(ctx)

	if run != nil {
		fmt.Println(run.Report())
	}
	if runErr != nil {
		log.Error("render run failed", "error", runErr.Error())
		shutdownMgr.Shutdown()
		os.Exit(1)
	}

	log.Info("render run complete", "output", dir)
	shutdownMgr.Shutdown()
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}
