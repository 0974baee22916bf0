package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"balwatch/internal/config"
	"balwatch/internal/errors"
	"balwatch/internal/notify"
	"balwatch/internal/progress"
	"balwatch/internal/state"
)

// Controller 轮询循环控制接口（由监控器实现）
type Controller interface {
	Pause()
	Resume()
	IsPaused() bool
	State() string
	LastObservedHeight() uint64
	PollInterval() time.Duration
}

// NodeStatusSource 节点状态来源（由链上客户端实现）
type NodeStatusSource interface {
	NodeStatus() []map[string]interface{}
}

// Server 运维API服务器：暴露监控状态、地址管理与最近日志
type Server struct {
	config     *config.Config
	store      *state.Store
	controller Controller
	nodes      NodeStatusSource
	progress   *progress.Manager
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	port       int
}

// NewServer 创建API服务器并挂载日志钩子
func NewServer(cfg *config.Config, store *state.Store, controller Controller,
	nodes NodeStatusSource, progressMgr *progress.Manager,
	logger *logrus.Logger, port int) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		config:     cfg,
		store:      store,
		controller: controller,
		nodes:      nodes,
		progress:   progressMgr,
		logger:     logger,
		logManager: logManager,
		port:       port,
	}
}

// Start 启动API服务器（阻塞）
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(gin.Recovery())

	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 停止API服务器
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 监控状态与控制
		api.GET("/status", s.getStatus)
		api.POST("/pause", s.pauseWatcher)
		api.POST("/resume", s.resumeWatcher)

		// 地址管理
		api.GET("/addresses", s.listAddresses)
		api.POST("/addresses", s.addAddress)
		api.DELETE("/addresses/:address", s.removeAddress)

		// 订阅会话
		api.GET("/subscribers", s.listSubscribers)

		// 统计与节点
		api.GET("/stats", s.getStats)
		api.GET("/nodes", s.getNodes)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "balwatch-api",
	})
}

// getStatus 获取监控状态
func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"addresses":   s.store.Count(),
		"subscribers": len(s.store.Subscribers()),
	}
	if s.controller != nil {
		resp["state"] = s.controller.State()
		resp["paused"] = s.controller.IsPaused()
		resp["last_observed_height"] = s.controller.LastObservedHeight()
		resp["poll_interval"] = s.controller.PollInterval().String()
	}

	c.JSON(http.StatusOK, resp)
}

// pauseWatcher 暂停轮询
func (s *Server) pauseWatcher(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "监控器未运行"})
		return
	}
	if s.controller.IsPaused() {
		c.JSON(http.StatusConflict, gin.H{"error": "轮询已暂停"})
		return
	}

	s.controller.Pause()
	c.JSON(http.StatusOK, gin.H{"message": "轮询已暂停", "status": "paused"})
}

// resumeWatcher 恢复轮询
func (s *Server) resumeWatcher(c *gin.Context) {
	if s.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "监控器未运行"})
		return
	}
	if !s.controller.IsPaused() {
		c.JSON(http.StatusConflict, gin.H{"error": "轮询未暂停"})
		return
	}

	s.controller.Resume()
	c.JSON(http.StatusOK, gin.H{"message": "轮询已恢复", "status": "resumed"})
}

// listAddresses 列出监控地址
func (s *Server) listAddresses(c *gin.Context) {
	tracked := s.store.List()

	addresses := make([]gin.H, 0, len(tracked))
	for _, t := range tracked {
		entry := gin.H{
			"address": t.Address,
			"balance": notify.FormatBalance(t.LastBalance),
			"sampled": t.HasBaseline(),
		}
		if t.LastBalance != nil {
			entry["balance_wei"] = t.LastBalance.String()
		}
		if t.ChatID != 0 {
			entry["chat_id"] = t.ChatID
		}
		addresses = append(addresses, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"addresses": addresses,
		"total":     len(addresses),
	})
}

// addAddress 添加监控地址
func (s *Server) addAddress(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
		ChatID  int64  `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracked, err := s.store.AddAddress(req.Address, req.ChatID)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": "地址格式无效"})
		case stderrors.Is(err, errors.ErrAlreadyTracked):
			c.JSON(http.StatusConflict, gin.H{"error": "该地址已在监控列表中"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "已添加监控地址",
		"address": tracked.Address,
	})
}

// removeAddress 移除监控地址
func (s *Server) removeAddress(c *gin.Context) {
	address := c.Param("address")

	if err := s.store.RemoveAddress(address); err != nil {
		switch {
		case stderrors.Is(err, errors.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": "地址格式无效"})
		case stderrors.Is(err, errors.ErrNotTracked):
			c.JSON(http.StatusNotFound, gin.H{"error": "该地址不在监控列表中"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "已移除监控地址"})
}

// listSubscribers 列出订阅会话
func (s *Server) listSubscribers(c *gin.Context) {
	subscribers := s.store.Subscribers()
	c.JSON(http.StatusOK, gin.H{
		"subscribers": subscribers,
		"total":       len(subscribers),
	})
}

// getStats 获取扫描统计
func (s *Server) getStats(c *gin.Context) {
	stats := gin.H{
		"addresses":   s.store.Count(),
		"subscribers": len(s.store.Subscribers()),
	}
	if s.progress != nil {
		for k, v := range s.progress.GetStats() {
			stats[k] = v
		}
	}

	c.JSON(http.StatusOK, stats)
}

// getNodes 获取RPC节点状态
func (s *Server) getNodes(c *gin.Context) {
	if s.nodes == nil {
		c.JSON(http.StatusOK, gin.H{"nodes": []gin.H{}, "total": 0})
		return
	}

	nodes := s.nodes.NodeStatus()
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// getLogs 获取分页日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.Page(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志缓存
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
