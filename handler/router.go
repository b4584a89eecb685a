package handler

import (
	"net/http"

	"github.com/FarazKhanAI/ImageRestoration/middleware"
	"github.com/gin-gonic/gin"
)

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string
	BuildTime string
	BuildID   string
	GitCommit string
	GitBranch string
}

// NewRouter 注册全部路由
func NewRouter(h *RestoreHandler, info BuildInfo) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger("/health"))
	r.Use(middleware.CORS())
	r.MaxMultipartMemory = h.cfg.Upload.MaxSize

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    info.Version,
			"build_time": info.BuildTime,
			"build_id":   info.BuildID,
			"git_commit": info.GitCommit,
			"git_branch": info.GitBranch,
		})
	})

	r.POST("/process", h.Process)
	r.GET("/download/:filename", h.Download)
	r.POST("/test-mask", h.TestMask)

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/process", h.Process)
		api.GET("/mask/:id", h.GetMask)
		api.POST("/detect-scratches", h.DetectScratches)
		api.GET("/presets", h.Presets)
	}

	return r
}
