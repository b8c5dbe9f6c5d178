package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-gateway/internal/audit"
	"github.com/pu-ac-cn/cas-gateway/internal/cas"
	"github.com/pu-ac-cn/cas-gateway/internal/config"
	"github.com/pu-ac-cn/cas-gateway/internal/handler"
	"github.com/pu-ac-cn/cas-gateway/internal/middleware"
	"github.com/pu-ac-cn/cas-gateway/internal/ratelimit"
	"github.com/pu-ac-cn/cas-gateway/internal/redis"
	"github.com/pu-ac-cn/cas-gateway/internal/replay"
	"github.com/pu-ac-cn/cas-gateway/internal/service"
	"github.com/pu-ac-cn/cas-gateway/internal/session"
	"github.com/pu-ac-cn/cas-gateway/pkg/response"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	// 初始化 Redis 连接
	if err := redis.Init(&cfg.Redis); err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Redis 连接成功")

	// 审计接收端
	sink := audit.NewZapSink(logger)

	// 会话签发器（密钥长度在此强制校验）
	issuer, err := session.NewIssuer(&session.IssuerConfig{
		Secret:    []byte(cfg.Session.Secret),
		Issuer:    "cas-gateway",
		MaxAge:    cfg.Session.MaxAge,
		UpdateAge: cfg.Session.UpdateAge,
	})
	if err != nil {
		logger.Fatal("初始化会话签发器失败", zap.Error(err))
	}

	// 票据验证器
	validator := cas.NewValidator(&cas.ValidatorConfig{
		BaseURL: cfg.CAS.BaseURL,
		Timeout: cfg.CAS.ValidateTimeout,
	}, cas.NewEnvelopeParser(), sink, logger)

	// 登录状态守卫
	guard := replay.NewGuard(redis.GetClient(), cfg.CAS.StateMaxAge)

	// 登录流程编排
	flow := service.NewFlowService(validator, guard, issuer, sink, logger, &service.FlowConfig{
		CASBaseURL: cfg.CAS.BaseURL,
		ServiceURL: cfg.CAS.ServiceURL,
	})

	// 速率限制器：单实例用内存，多实例用 Redis
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Store == "redis" {
		limiter = ratelimit.NewRedis(redis.GetClient(), cfg.RateLimit.Limit, cfg.RateLimit.Window)
	} else {
		limiter = ratelimit.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	tlsEnabled := cfg.Server.TLSCertPath != "" && cfg.Server.TLSKeyPath != ""

	// 处理器
	handlerCfg := &handler.CASHandlerConfig{
		CASBaseURL:           cfg.CAS.BaseURL,
		ServiceURL:           cfg.CAS.ServiceURL,
		PublicURL:            cfg.Server.PublicURL,
		SessionCookieName:    cfg.Session.CookieName,
		CSRFCookieName:       cfg.Session.CSRFCookieName,
		SessionMaxAgeSeconds: int(cfg.Session.MaxAge.Seconds()),
		StateMaxAgeSeconds:   int(cfg.CAS.StateMaxAge.Seconds()),
		Secure:               tlsEnabled,
	}
	casHandler := handler.NewCASHandler(flow, sink, logger, handlerCfg)
	authHandler := handler.NewAuthHandler(flow, issuer, sink, logger, handlerCfg)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()

	// 全局中间件：日志 -> 恢复 -> 安全头 -> 速率限制 -> CSRF -> 来源校验
	securityCfg := middleware.DefaultSecurityConfig(cfg.Server.PublicURL, cfg.Session.CSRFCookieName, tlsEnabled)
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.SecurityHeaders(tlsEnabled))
	router.Use(middleware.RateLimit(limiter, sink, logger))
	router.Use(middleware.CSRF(securityCfg, sink, logger))
	router.Use(middleware.OriginCheck(securityCfg, sink, logger))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		redisStatus := "ok"
		if err := redis.GetClient().Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error"
		}
		response.Success(c, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
			"redis":  redisStatus,
		})
	})

	// CAS 登录路由（公开）
	casGroup := router.Group("/api/cas")
	{
		casGroup.GET("/login", casHandler.Login)
		casGroup.GET("/validate", casHandler.Validate)
	}

	// 会话路由
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/callback", authHandler.LegacyCallback)
		authGroup.GET("/refresh", authHandler.Refresh)

		// 需要有效会话的路由
		authRequired := authGroup.Group("")
		authRequired.Use(middleware.SessionAuth(issuer, cfg.Session.CookieName, sink))
		{
			authRequired.POST("/logout", authHandler.Logout)
			authRequired.GET("/me", authHandler.Me)
		}
	}

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		logger.Info("服务启动", zap.String("addr", cfg.Server.Addr), zap.Bool("tls", tlsEnabled))
		var err error
		if tlsEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")

	// 优雅关闭，等待 5 秒
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("服务关闭失败", zap.Error(err))
	}

	redis.Close()

	logger.Info("服务已关闭")
}

// newLogger 构造进程日志实例
// 由 main 构造后注入各组件，不使用包级单例
func newLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "msg"
	return config.Build()
}
