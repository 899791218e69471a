package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
	regservice "github.com/hewenyu/service-registry/internal/registration/service"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// stubRegistration 记录清理调用次数的测试替身
type stubRegistration struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubRegistration) Register(ctx context.Context, req *model.RegisterServiceRequest) (*model.Service, bool, error) {
	return nil, false, nil
}

func (s *stubRegistration) ReportHealth(ctx context.Context, serviceID string, healthy bool) (*model.Service, error) {
	return nil, nil
}

func (s *stubRegistration) Deregister(ctx context.Context, serviceID string) error {
	return nil
}

func (s *stubRegistration) CleanupStaleServices(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return 0, nil
}

func (s *stubRegistration) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSweeper_RemovesStaleServices(t *testing.T) {
	store := serviceStore.NewMemoryServiceStore()
	ctx := context.Background()

	_, err := store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.1", Port: 8080,
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "10.0.0.2", Port: 8080,
	})
	require.NoError(t, err)

	// TTL为零使已有记录立即过期
	reg := regservice.NewRegistrationService(store, config.NewNopLogger(), 0)
	sw := New(reg, config.NewNopLogger(), 10*time.Millisecond)
	sw.Start(ctx)
	defer sw.Stop()

	require.Eventually(t, func() bool {
		services, err := store.ListServices(ctx, model.ServiceFilter{})
		return err == nil && len(services) == 0
	}, time.Second, 10*time.Millisecond, "过期服务应该在若干个周期内被清理")
}

func TestSweeper_ContinuesAfterError(t *testing.T) {
	reg := &stubRegistration{err: errors.New("存储不可用")}
	sw := New(reg, config.NewNopLogger(), 10*time.Millisecond)
	sw.Start(context.Background())
	defer sw.Stop()

	require.Eventually(t, func() bool {
		return reg.callCount() >= 3
	}, time.Second, 10*time.Millisecond, "单次清理失败后循环应该继续")
}

func TestSweeper_StopExitsPromptly(t *testing.T) {
	reg := &stubRegistration{}
	sw := New(reg, config.NewNopLogger(), time.Hour)
	sw.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop应该及时返回而不等待下一个周期")
	}

	// 重复调用Stop应该是安全的
	sw.Stop()
}

func TestSweeper_ContextCancelStopsLoop(t *testing.T) {
	reg := &stubRegistration{}
	sw := New(reg, config.NewNopLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)

	require.Eventually(t, func() bool {
		return reg.callCount() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	calls := reg.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, reg.callCount(), "上下文取消后不应该再执行清理")
}
