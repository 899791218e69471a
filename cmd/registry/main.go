package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/api"
	"github.com/hewenyu/service-registry/internal/config"
	dnsserver "github.com/hewenyu/service-registry/internal/dns"
	discservice "github.com/hewenyu/service-registry/internal/discovery/service"
	regservice "github.com/hewenyu/service-registry/internal/registration/service"
	"github.com/hewenyu/service-registry/internal/store/mysql"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
	"github.com/hewenyu/service-registry/internal/sweeper"
)

var configFile string

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 打印启动信息
	logger.Info("Service Registry Starting...",
		zap.String("version", "0.1.0"),
		zap.String("database", fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)),
		zap.Int("api_port", cfg.Server.Port),
		zap.Bool("dns_enabled", cfg.DNS.Enabled),
	)

	// 连接MySQL并自动迁移表结构
	db, err := mysql.NewClient(cfg)
	if err != nil {
		logger.Error("连接数据库失败", zap.Error(err))
		os.Exit(1)
	}

	store := serviceStore.NewMySQLServiceStore(db, logger, time.Duration(cfg.Database.OpTimeout)*time.Second)

	// 启动前检查存储连通性
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Error("数据库健康检查失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("数据库连接成功并通过健康检查")

	registration := regservice.NewRegistrationService(store, logger, time.Duration(cfg.Health.StaleTTL)*time.Second)
	discovery := discservice.NewDiscoveryService(store, logger)

	// 启动后台过期清理任务
	rootCtx, stopBackground := context.WithCancel(context.Background())
	sw := sweeper.New(registration, logger, time.Duration(cfg.Health.SweepInterval)*time.Second)
	sw.Start(rootCtx)

	// 启动DNS发现平面
	var dnsSrv *dnsserver.Server
	if cfg.DNS.Enabled {
		dnsSrv = dnsserver.NewServer(cfg, logger, discovery)
		if err := dnsSrv.Start(); err != nil {
			logger.Error("启动DNS服务器失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// 启动HTTP API服务
	apiServer := api.NewServer(cfg, logger, registration, discovery, store)
	if err := apiServer.Start(); err != nil {
		logger.Error("启动HTTP API服务失败", zap.Error(err))
		os.Exit(1)
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭HTTP API服务失败", zap.Error(err))
	}
	if dnsSrv != nil {
		if err := dnsSrv.Stop(); err != nil {
			logger.Error("关闭DNS服务器失败", zap.Error(err))
		}
	}
	sw.Stop()
	stopBackground()

	// 释放数据库连接池
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("服务已退出")
}
