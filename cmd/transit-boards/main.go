package main

import (
	"context"
	"flag"
	"log"
	"time"

	lib "github.com/theoremus-urban-solutions/transit-boards"
	"github.com/theoremus-urban-solutions/transit-boards/config"
	"github.com/theoremus-urban-solutions/transit-boards/gtfs"
	"github.com/theoremus-urban-solutions/transit-boards/watch"
)

func main() {
	staticURL := flag.String("staticURL", "", "static feed URL (overrides config)")
	realtimeURL := flag.String("realtimeURL", "", "realtime trip-updates URL (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	flag.Parse()

	lib.InitLogging()
	if err := config.LoadAppConfig(); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := config.Config
	if *staticURL != "" {
		cfg.Static.FeedURL = *staticURL
	}
	if *realtimeURL != "" {
		cfg.Realtime.FeedURL = *realtimeURL
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	store, err := gtfs.NewStore(cfg.Static.CacheDir, cfg.Static.FeedURL,
		time.Duration(cfg.Static.TimeoutMS)*time.Millisecond)
	if err != nil {
		log.Fatalf("feed store: %v", err)
	}
	watchStore, err := watch.OpenStore(cfg.Boards.WatchStorePath)
	if err != nil {
		log.Fatalf("watch store: %v", err)
	}
	defer watchStore.Close()
	registry, err := watch.NewRegistry(watchStore, cfg.Boards.MaxWatches, cfg.Boards.DefaultWindowMinutes)
	if err != nil {
		log.Fatalf("watch registry: %v", err)
	}

	coord := lib.NewCoordinator(cfg, store, registry, lib.LogNotifier{}, nil)
	if err := coord.Start(context.Background()); err != nil {
		log.Fatalf("startup: %v", err)
	}

	lib.StartServer(coord, cfg.Server.Port)
	lib.HandleGracefulShutdown(coord)
}
