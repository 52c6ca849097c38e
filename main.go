package main

import (
	"context"
	"fmt"
	"os"

	"github.com/armanrma7/rmbg/config"
	"github.com/armanrma7/rmbg/handler"
	"github.com/armanrma7/rmbg/middleware"
	"github.com/armanrma7/rmbg/service"
	"github.com/armanrma7/rmbg/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg := config.New()

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting rmbg server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	memory := service.NewMemoryCache(&cfg.Cache.Memory)
	if err := memory.StartSweeper(cfg.Cache.Memory.SweepSpec); err != nil {
		utils.Logger.Fatal("failed to start cache sweeper", zap.Error(err))
	}
	defer memory.StopSweeper()

	var shared *service.RedisCache
	if cfg.Cache.Redis.Enabled {
		shared = service.NewRedisCache(&cfg.Cache.Redis)
		if err := shared.Ping(context.Background()); err != nil {
			utils.Logger.Warn("redis connection failed, shared cache disabled", zap.Error(err))
			_ = shared.Close()
			shared = nil
		} else {
			utils.Logger.Info("redis connected successfully")
			defer shared.Close()
		}
	}

	segmenter := service.NewHTTPSegmenter(&cfg.Segmenter)
	pipeline := service.NewPipeline(cfg, segmenter, memory, shared)
	removeBG := handler.NewRemoveBGHandler(cfg, pipeline, memory, shared)

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/remove-bg", removeBG.Remove)
		api.GET("/result/:hash", removeBG.GetByHash)
	}

	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
