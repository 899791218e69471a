package service

import (
	"context"
	"errors"
	"time"

	"github.com/hewenyu/service-registry/internal/core/model"
)

// ServiceStore 表示服务存储接口
// MySQL实现用于生产，内存实现用作测试替身，两者语义一致
type ServiceStore interface {
	// Create 创建服务记录
	// (name, host, port) 三元组冲突时返回冲突错误，由唯一索引裁决而非预检查；
	// 成功后尽力记录 service_registered 事件，事件写入失败不影响注册结果
	Create(ctx context.Context, svc *model.Service) (*model.Service, error)

	// GetService 按ID获取服务
	GetService(ctx context.Context, serviceID string) (*model.Service, error)

	// GetByEndpoint 按 (name, host, port) 三元组获取服务，用于判断是否为重复注册
	GetByEndpoint(ctx context.Context, name, host string, port int) (*model.Service, error)

	// Update 在行锁保护下应用部分字段更新
	// expectedVersion 非nil且与当前版本不符时返回冲突错误且不做任何修改；
	// 成功时版本号加1并刷新 last_seen_at，状态变化时记录 status_change 事件
	Update(ctx context.Context, serviceID string, update model.ServiceUpdate, expectedVersion *int) (*model.Service, error)

	// Delete 删除服务
	// 先记录 service_unregistered 事件再删除记录，级联删除会连同该事件一起清除
	Delete(ctx context.Context, serviceID string) error

	// ListServices 按过滤条件列出服务，按名称升序排列
	// 标签过滤仅支持单个 key=value 谓词
	ListServices(ctx context.Context, filter model.ServiceFilter) ([]*model.Service, error)

	// FindByName 按名称查找服务实例，按 last_seen_at 降序排列（最新的在前）
	// status 非nil时精确匹配状态，否则 excludeUnhealthy 为真时排除不健康实例；
	// 无匹配时返回空列表而非错误
	FindByName(ctx context.Context, name string, status *model.ServiceStatus, excludeUnhealthy bool) ([]*model.Service, error)

	// UpdateHealthStatus 在行锁保护下应用一次布尔健康信号
	// 每次调用版本号加1并刷新时间戳，状态变化时记录 status_change 事件
	UpdateHealthStatus(ctx context.Context, serviceID string, healthy bool, checkTime *time.Time) (*model.Service, error)

	// CleanupStaleServices 删除 last_seen_at 早于 before 的服务，返回删除数量
	CleanupStaleServices(ctx context.Context, before time.Time) (int, error)

	// ListEvents 按创建时间升序返回服务的审计事件
	ListEvents(ctx context.Context, serviceID string) ([]*model.ServiceEvent, error)

	// Ping 检查存储连通性
	Ping(ctx context.Context) error
}

// StoreError 定义存储操作可能返回的错误类型
type StoreError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *StoreError) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrConflict 唯一性约束或乐观锁冲突
	ErrConflict
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrUnavailable 存储暂时不可用（超时、连接失败）
	ErrUnavailable
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *StoreError {
	return &StoreError{
		Code:    ErrNotFound,
		Message: message,
	}
}

// NewConflictError 创建冲突错误
func NewConflictError(message string) *StoreError {
	return &StoreError{
		Code:    ErrConflict,
		Message: message,
	}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewUnavailableError 创建存储不可用错误
func NewUnavailableError(message string) *StoreError {
	return &StoreError{
		Code:    ErrUnavailable,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *StoreError {
	return &StoreError{
		Code:    ErrInternal,
		Message: message,
	}
}

// AsStoreError 从错误链中提取StoreError
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsNotFound 判断错误是否为资源不存在
func IsNotFound(err error) bool {
	se, ok := AsStoreError(err)
	return ok && se.Code == ErrNotFound
}

// IsConflict 判断错误是否为冲突
func IsConflict(err error) bool {
	se, ok := AsStoreError(err)
	return ok && se.Code == ErrConflict
}

// IsUnavailable 判断错误是否为存储暂时不可用
func IsUnavailable(err error) bool {
	se, ok := AsStoreError(err)
	return ok && se.Code == ErrUnavailable
}
