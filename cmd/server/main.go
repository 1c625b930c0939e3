package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbats183/simple-mjpeg-restreamer/pkg/apiserver"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/config"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/registry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sourceRegistry := registry.NewRegistry(cfg.SourceOptions())
	web := apiserver.NewWebServer(apiserver.ServerConfig{
		Addr:          cfg.Listen,
		FrameInterval: cfg.Delivery.FrameInterval,
		AuthUser:      cfg.Auth.User,
		AuthPass:      cfg.Auth.Pass,
	}, sourceRegistry)

	log.Println("Starting...")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Stopping sources")
		return sourceRegistry.Close()
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Server error: %v", err)
		os.Exit(1)
	}
	log.Println("Shutdown complete")
}
