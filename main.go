// main.go
// Application entry point: loads configuration, initializes logging and runs the relay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erilali/relay/internal/api"
	"github.com/erilali/relay/internal/logger"
	"github.com/erilali/relay/internal/util"
)

func main() {
	configPath := flag.String("config", "relay_config.json", "path to JSON configuration file")
	flag.Parse()

	config, err := util.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(config.Logger)
	serverLogger := logger.NewLogger("server")
	serverLogger.WithFields(map[string]interface{}{
		"port":            config.Port,
		"level":           config.Logger.Level,
		"log_to_file":     config.Logger.LogToFile,
		"allowed_origins": config.AllowedOrigins,
		"credentials":     config.AllowCredentials,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := api.StartServer(ctx, config, serverLogger); err != nil {
		serverLogger.Fatalf("Server error: %v", err)
	}
	serverLogger.Info("Server stopped")
}
