package main

import (
	"context"
	"fmt"
	"os"

	"patchcert/adapters/api"
	"patchcert/internal"
	"patchcert/internal/config"
	"patchcert/internal/container"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	logger := internal.NewDefaultLogger()
	if err := run(logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(logger *internal.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.Server.GinMode)

	c, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := c.InitStore(ctx); err != nil {
		return err
	}
	defer c.Shutdown(ctx)

	opts := []api.Option{
		api.WithMetrics(c.Metrics, c.Registry),
		api.WithLogger(logger),
	}
	if c.Store != nil {
		opts = append(opts, api.WithRepository(c.Store))
	}
	server := api.NewServer(api.Defaults{Params: c.Params, Window: c.Window}, opts...)
	return server.Start(fmt.Sprintf(":%s", cfg.Server.Port))
}
