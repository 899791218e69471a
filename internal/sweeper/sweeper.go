package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/config"
	regservice "github.com/hewenyu/service-registry/internal/registration/service"
)

// Sweeper 定期清理超过TTL未上报的服务
type Sweeper struct {
	registration regservice.RegistrationService
	logger       config.Logger
	interval     time.Duration

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New 创建一个新的过期服务清理器
func New(registration regservice.RegistrationService, logger config.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		registration: registration,
		logger:       logger,
		interval:     interval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start 在后台goroutine中启动清理循环
// 上下文取消或调用Stop都会使循环及时退出
func (s *Sweeper) Start(ctx context.Context) {
	s.started = true
	go s.run(ctx)
}

// Stop 停止清理循环并等待其退出
func (s *Sweeper) Stop() {
	if !s.started {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("过期服务清理任务已启动", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("过期服务清理任务已停止")
			return
		case <-s.stopCh:
			s.logger.Info("过期服务清理任务已停止")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep 执行一次清理，单次失败不终止循环
func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.registration.CleanupStaleServices(ctx)
	if err != nil {
		s.logger.Error("清理过期服务失败", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("清理了过期服务", zap.Int("count", count))
	} else {
		s.logger.Debug("没有过期服务需要清理")
	}
}
