package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/api/handler"
	"github.com/hewenyu/service-registry/internal/config"
	discservice "github.com/hewenyu/service-registry/internal/discovery/service"
	regservice "github.com/hewenyu/service-registry/internal/registration/service"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// CustomValidator 基于validator实现echo.Validator接口
type CustomValidator struct {
	validator *validator.Validate
}

// Validate 实现echo.Validator接口
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// Server 表示注册中心的HTTP API服务
type Server struct {
	e      *echo.Echo
	logger config.Logger
	addr   string
}

// NewServer 创建一个新的HTTP API服务
func NewServer(cfg *config.Config, logger config.Logger, registration regservice.RegistrationService, discovery discservice.DiscoveryService, store serviceStore.ServiceStore) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// 添加中间件
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// 请求参数验证器
	e.Validator = &CustomValidator{validator: validator.New()}

	// 注册路由
	serviceHandler := handler.NewServiceHandler(registration, discovery)
	serviceHandler.RegisterRoutes(e)

	healthHandler := handler.NewHealthHandler(store)
	healthHandler.RegisterRoutes(e)

	// Prometheus指标端点
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{
		e:      e,
		logger: logger,
		addr:   fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.Port),
	}
}

// Start 以非阻塞方式启动服务
func (s *Server) Start() error {
	s.logger.Info("HTTP API服务启动", zap.String("addr", s.addr))

	go func() {
		if err := s.e.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
