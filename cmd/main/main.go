package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aggr-server/src/config"
	"aggr-server/src/exchanges"
	"aggr-server/src/interfaces"
	"aggr-server/src/logger"
	"aggr-server/src/network"
	"aggr-server/src/server"
	"aggr-server/src/storage"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "./config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)

	// Setup storages (ordered, first is primary for the historical API)
	var storages []interfaces.IStorage
	for _, name := range conf.Storage {
		switch name {
		case "postgres":
			st, err := storage.NewPostgresStorage(conf.MConfig, appLogger)
			if err != nil {
				appLogger.Critical("Failed to init postgres storage: %v", err)
			}
			storages = append(storages, st)
		default:
			storages = append(storages, storage.NewSQLiteStorage(conf.MConfig, appLogger))
		}
	}

	// Shared REST client for the adapters' product fetches
	networkManager := network.NewRESTClient(conf.MConfig, appLogger)

	// Exchange adapters
	adapters := []interfaces.IExchange{
		exchanges.NewBinance(conf.MConfig, networkManager),
		exchanges.NewBitmex(conf.MConfig, networkManager),
	}

	// Server owns the registry, chunk, aggregation map and broadcast hub.
	// Adapters publish into it through the sink surface.
	srv := server.NewServer(conf.MConfig, appLogger, adapters, storages)
	for _, ex := range adapters {
		ex.Bind(srv)
	}

	if err := srv.Start(); err != nil {
		appLogger.Critical("Failed to start: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	if err := srv.Stop(); err != nil {
		appLogger.Error("Shutdown error: %v", err)
	}
}
