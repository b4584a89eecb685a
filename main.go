package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/FarazKhanAI/ImageRestoration/config"
	"github.com/FarazKhanAI/ImageRestoration/handler"
	"github.com/FarazKhanAI/ImageRestoration/service"
	"github.com/FarazKhanAI/ImageRestoration/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode, cfg.Server.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting image restoration server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 确保上传目录存在
	if err := cfg.EnsureDirs(); err != nil {
		utils.Logger.Fatal("failed to create upload directories", zap.Error(err))
	}

	presets, err := config.LoadPresets(cfg.PresetsFile)
	if err != nil {
		utils.Logger.Warn("failed to load presets, continuing without", zap.Error(err))
		presets = config.Presets{}
	}
	utils.Logger.Info("presets loaded", zap.Strings("names", presets.Names()))

	// 初始化Redis
	redisService := service.NewRedisService(&cfg.Redis)
	ctx := context.Background()
	if err := redisService.Ping(ctx); err != nil {
		utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
	} else {
		utils.Logger.Info("redis connected successfully")
	}
	defer redisService.Close()

	// 初始化修复服务
	restoreService := service.NewRestorationService(&cfg.Restoration)

	// 初始化Handler
	restoreHandler := handler.NewRestoreHandler(cfg, presets, redisService, restoreService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := handler.NewRouter(restoreHandler, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
