package handler

import (
	"net/http"

	"github.com/A-SH2k17/LeafEyeAIServer/middleware"
	"github.com/gin-gonic/gin"
)

// BuildInfo 版本信息
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
	GitBranch string
}

// NewRouter 创建路由
func NewRouter(h *PreprocessHandler, info BuildInfo) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
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
			"git_commit": info.GitCommit,
			"git_branch": info.GitBranch,
		})
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/preprocess", h.Preprocess)
		api.POST("/detect", h.Detect)
		api.GET("/result/:md5", h.GetByMD5)
	}

	return r
}
