package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
	"github.com/hewenyu/service-registry/internal/metrics"
)

// MySQLServiceStore 基于MySQL的服务存储实现
type MySQLServiceStore struct {
	db        *gorm.DB
	logger    config.Logger
	opTimeout time.Duration
}

var _ ServiceStore = (*MySQLServiceStore)(nil)

// NewMySQLServiceStore 创建MySQL服务存储
// opTimeout 是单次存储操作的超时上限，超时按存储不可用处理
func NewMySQLServiceStore(db *gorm.DB, logger config.Logger, opTimeout time.Duration) *MySQLServiceStore {
	return &MySQLServiceStore{
		db:        db,
		logger:    logger,
		opTimeout: opTimeout,
	}
}

// opCtx 为单次存储操作派生带超时的上下文
func (s *MySQLServiceStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// wrapDBError 将数据库错误翻译为StoreError，驱动细节只记日志不外泄
func (s *MySQLServiceStore) wrapDBError(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return NewConflictError("服务已存在相同的名称、主机和端口")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewNotFoundError("服务不存在")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.logger.Warn("存储操作超时", zap.String("operation", op), zap.Error(err))
		return NewUnavailableError(fmt.Sprintf("存储操作超时: %s", op))
	default:
		s.logger.Error("存储操作失败", zap.String("operation", op), zap.Error(err))
		return NewInternalError(fmt.Sprintf("存储操作失败: %s", op))
	}
}

// getForUpdate 在事务内以行锁读取服务，返回原始gorm错误由调用方翻译
func getForUpdate(tx *gorm.DB, serviceID string) (*model.Service, error) {
	var svc model.Service
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&svc, "id = ?", serviceID).Error; err != nil {
		return nil, err
	}
	return &svc, nil
}

// Create 创建服务记录，唯一索引冲突返回冲突错误
func (s *MySQLServiceStore) Create(ctx context.Context, svc *model.Service) (*model.Service, error) {
	if svc == nil || svc.Name == "" || svc.Host == "" || svc.Port <= 0 {
		return nil, NewInvalidArgumentError("服务名称、主机和端口不能为空")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("create", time.Now())

	now := time.Now().UTC()
	svc.ID = uuid.New().String()
	svc.Status = model.StatusUnknown
	svc.HealthCheckFailures = 0
	if svc.HealthCheckInterval <= 0 {
		svc.HealthCheckInterval = 30
	}
	if svc.HealthCheckTimeout <= 0 {
		svc.HealthCheckTimeout = 10
	}
	svc.RegisteredAt = now
	svc.LastSeenAt = now
	svc.Version = 1

	if err := s.db.WithContext(ctx).Create(svc).Error; err != nil {
		return nil, s.wrapDBError("create", err)
	}

	// 注册事件尽力而为，写入失败不回滚已提交的注册
	event := &model.ServiceEvent{
		ID:        uuid.New().String(),
		ServiceID: svc.ID,
		EventType: model.EventServiceRegistered,
		EventData: map[string]interface{}{
			"service_name": svc.Name,
			"host":         svc.Host,
			"port":         svc.Port,
		},
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		s.logger.Warn("记录注册事件失败",
			zap.String("service_id", svc.ID),
			zap.Error(err))
	}

	s.logger.Info("服务注册成功",
		zap.String("service_id", svc.ID),
		zap.String("service_name", svc.Name),
		zap.String("host", svc.Host),
		zap.Int("port", svc.Port))
	return svc, nil
}

// GetService 按ID获取服务
func (s *MySQLServiceStore) GetService(ctx context.Context, serviceID string) (*model.Service, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("get", time.Now())

	var svc model.Service
	if err := s.db.WithContext(ctx).First(&svc, "id = ?", serviceID).Error; err != nil {
		return nil, s.wrapDBError("get", err)
	}
	return &svc, nil
}

// GetByEndpoint 按 (name, host, port) 三元组获取服务
func (s *MySQLServiceStore) GetByEndpoint(ctx context.Context, name, host string, port int) (*model.Service, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("get_by_endpoint", time.Now())

	var svc model.Service
	err := s.db.WithContext(ctx).
		Where("name = ? AND host = ? AND port = ?", name, host, port).
		First(&svc).Error
	if err != nil {
		return nil, s.wrapDBError("get_by_endpoint", err)
	}
	return &svc, nil
}

// Update 在行锁保护下应用部分字段更新
func (s *MySQLServiceStore) Update(ctx context.Context, serviceID string, update model.ServiceUpdate, expectedVersion *int) (*model.Service, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("update", time.Now())

	var updated *model.Service
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := getForUpdate(tx, serviceID)
		if err != nil {
			return err
		}

		// 乐观锁检查：版本不符说明已被其他进程修改
		if expectedVersion != nil && svc.Version != *expectedVersion {
			return NewConflictError("服务已被其他进程修改")
		}

		oldStatus := svc.Status
		if update.Type != nil {
			svc.Type = *update.Type
		}
		if update.Status != nil {
			svc.Status = *update.Status
		}
		if update.HealthCheckEndpoint != nil {
			svc.HealthCheckEndpoint = *update.HealthCheckEndpoint
		}
		if update.Metadata != nil {
			svc.Metadata = *update.Metadata
		}
		svc.Version++
		svc.LastSeenAt = time.Now().UTC()

		if err := tx.Save(svc).Error; err != nil {
			return err
		}

		if svc.Status != oldStatus {
			event := &model.ServiceEvent{
				ID:        uuid.New().String(),
				ServiceID: svc.ID,
				EventType: model.EventStatusChange,
				EventData: map[string]interface{}{
					"old_status": string(oldStatus),
					"new_status": string(svc.Status),
				},
			}
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}

		updated = svc
		return nil
	})
	if err != nil {
		if se, ok := AsStoreError(err); ok {
			return nil, se
		}
		return nil, s.wrapDBError("update", err)
	}

	s.logger.Info("服务更新成功",
		zap.String("service_id", updated.ID),
		zap.String("service_name", updated.Name),
		zap.Int("version", updated.Version))
	return updated, nil
}

// Delete 删除服务及其全部事件
func (s *MySQLServiceStore) Delete(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return NewInvalidArgumentError("服务ID不能为空")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("delete", time.Now())

	var name string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := getForUpdate(tx, serviceID)
		if err != nil {
			return err
		}
		name = svc.Name

		// 注销事件与删除同事务提交，级联删除会连同它一起清除，
		// 当前行为接受注销事件不被保留
		event := &model.ServiceEvent{
			ID:        uuid.New().String(),
			ServiceID: svc.ID,
			EventType: model.EventServiceUnregistered,
			EventData: map[string]interface{}{
				"service_name": svc.Name,
			},
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		return tx.Delete(&model.Service{}, "id = ?", serviceID).Error
	})
	if err != nil {
		if se, ok := AsStoreError(err); ok {
			return se
		}
		return s.wrapDBError("delete", err)
	}

	s.logger.Info("服务注销成功",
		zap.String("service_id", serviceID),
		zap.String("service_name", name))
	return nil
}

// ListServices 按过滤条件列出服务，按名称升序排列
func (s *MySQLServiceStore) ListServices(ctx context.Context, filter model.ServiceFilter) ([]*model.Service, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("list", time.Now())

	q := s.db.WithContext(ctx).Model(&model.Service{})
	if filter.Type != nil {
		q = q.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.HasTag() {
		// 标签谓词下推到JSON列，路径作为绑定参数传入
		path := fmt.Sprintf(`$.tags."%s"`, filter.TagKey)
		q = q.Where("JSON_UNQUOTE(JSON_EXTRACT(service_metadata, ?)) = ?", path, filter.TagValue)
	}

	var services []*model.Service
	if err := q.Order("name ASC").Find(&services).Error; err != nil {
		return nil, s.wrapDBError("list", err)
	}
	return services, nil
}

// FindByName 按名称查找服务实例，最新的在前
func (s *MySQLServiceStore) FindByName(ctx context.Context, name string, status *model.ServiceStatus, excludeUnhealthy bool) ([]*model.Service, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("find_by_name", time.Now())

	q := s.db.WithContext(ctx).Where("name = ?", name)
	if status != nil {
		q = q.Where("status = ?", *status)
	} else if excludeUnhealthy {
		q = q.Where("status <> ?", model.StatusUnhealthy)
	}

	var services []*model.Service
	if err := q.Order("last_seen_at DESC").Find(&services).Error; err != nil {
		return nil, s.wrapDBError("find_by_name", err)
	}
	return services, nil
}

// UpdateHealthStatus 在行锁保护下应用一次健康信号
func (s *MySQLServiceStore) UpdateHealthStatus(ctx context.Context, serviceID string, healthy bool, checkTime *time.Time) (*model.Service, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("update_health", time.Now())

	var (
		updated   *model.Service
		oldStatus model.ServiceStatus
		changed   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := getForUpdate(tx, serviceID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		ct := now
		if checkTime != nil {
			ct = *checkTime
		}
		oldStatus, changed = model.ApplyHealthSignal(svc, healthy, ct, now)
		svc.Version++

		if err := tx.Save(svc).Error; err != nil {
			return err
		}

		if changed {
			event := &model.ServiceEvent{
				ID:        uuid.New().String(),
				ServiceID: svc.ID,
				EventType: model.EventStatusChange,
				EventData: map[string]interface{}{
					"old_status": string(oldStatus),
					"new_status": string(svc.Status),
				},
			}
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}

		updated = svc
		return nil
	})
	if err != nil {
		if se, ok := AsStoreError(err); ok {
			return nil, se
		}
		return nil, s.wrapDBError("update_health", err)
	}

	if changed {
		metrics.HealthTransitionsTotal.
			WithLabelValues(string(oldStatus), string(updated.Status)).Inc()
	}
	s.logger.Info("健康检查已更新",
		zap.String("service_id", updated.ID),
		zap.String("service_name", updated.Name),
		zap.Bool("healthy", healthy),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// CleanupStaleServices 删除 last_seen_at 早于 before 的服务
func (s *MySQLServiceStore) CleanupStaleServices(ctx context.Context, before time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("cleanup_stale", time.Now())

	res := s.db.WithContext(ctx).
		Where("last_seen_at < ?", before).
		Delete(&model.Service{})
	if res.Error != nil {
		return 0, s.wrapDBError("cleanup_stale", res.Error)
	}

	count := int(res.RowsAffected)
	if count > 0 {
		s.logger.Info("清理过期服务完成",
			zap.Int("count", count),
			zap.Time("before", before))
	}
	return count, nil
}

// ListEvents 按创建时间升序返回服务的审计事件
func (s *MySQLServiceStore) ListEvents(ctx context.Context, serviceID string) ([]*model.ServiceEvent, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	defer metrics.ObserveStoreOperation("list_events", time.Now())

	// 先确认服务存在，区分"无事件"与"服务不存在"
	var exists int64
	if err := s.db.WithContext(ctx).Model(&model.Service{}).
		Where("id = ?", serviceID).Count(&exists).Error; err != nil {
		return nil, s.wrapDBError("list_events", err)
	}
	if exists == 0 {
		return nil, NewNotFoundError("服务不存在")
	}

	var events []*model.ServiceEvent
	err := s.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, s.wrapDBError("list_events", err)
	}
	return events, nil
}

// Ping 检查数据库连通性
func (s *MySQLServiceStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return NewUnavailableError("获取数据库连接池失败")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		s.logger.Warn("数据库连通性检查失败", zap.Error(err))
		return NewUnavailableError("数据库连接不可用")
	}
	return nil
}
