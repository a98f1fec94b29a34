package main

import (
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"chitfund/api"
)

func main() {
	args, err := ParseArgs()
	if err != nil {
		panic(err)
	}
	if args.ServerConfig.ID == "" {
		args.ServerConfig.ID, _ = os.Hostname()
	}
	if err := args.Validate(); err != nil {
		panic(err)
	}
	logger := setupLogger(args.LogLevel, args.LogFormat)

	server, err := api.NewServer(args.ServerConfig, api.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer server.Close()
	if err := server.Start(); err != nil {
		panic(err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger))
	router.NoRoute(server.NoRoute)
	server.RegisterHandlers(router)

	logger.Info("Listening", slog.String("addr", args.ServerURL))
	if err := router.Run(args.ServerURL); err != nil {
		logger.Error("Server stopped", slog.Any("error", err))
	}
}
