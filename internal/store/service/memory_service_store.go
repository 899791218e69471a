package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hewenyu/service-registry/internal/core/model"
)

// MemoryServiceStore 基于内存的服务存储实现，主要用于测试
// 与MySQL实现保持一致的语义：唯一性约束、乐观锁、版本递增、事件级联删除
type MemoryServiceStore struct {
	mu        sync.RWMutex
	services  map[string]*model.Service        // id -> 服务
	events    map[string][]*model.ServiceEvent // service_id -> 事件，追加顺序即创建顺序
	endpoints map[string]string                // name|host|port -> id，模拟唯一索引
}

var _ ServiceStore = (*MemoryServiceStore)(nil)

// NewMemoryServiceStore 创建内存服务存储
func NewMemoryServiceStore() *MemoryServiceStore {
	return &MemoryServiceStore{
		services:  make(map[string]*model.Service),
		events:    make(map[string][]*model.ServiceEvent),
		endpoints: make(map[string]string),
	}
}

// endpointKey 生成 (name, host, port) 三元组索引键
func endpointKey(name, host string, port int) string {
	return fmt.Sprintf("%s|%s|%d", name, host, port)
}

// cloneService 深拷贝服务，避免调用方与存储共享可变状态
func cloneService(s *model.Service) *model.Service {
	c := *s
	if s.LastHealthCheckAt != nil {
		t := *s.LastHealthCheckAt
		c.LastHealthCheckAt = &t
	}
	c.Metadata = cloneMetadata(s.Metadata)
	return &c
}

func cloneMetadata(md model.Metadata) model.Metadata {
	out := md
	if md.Tags != nil {
		out.Tags = make(map[string]string, len(md.Tags))
		for k, v := range md.Tags {
			out.Tags[k] = v
		}
	}
	if md.Capabilities != nil {
		out.Capabilities = append([]string(nil), md.Capabilities...)
	}
	return out
}

func cloneEvent(e *model.ServiceEvent) *model.ServiceEvent {
	c := *e
	if e.EventData != nil {
		c.EventData = make(map[string]interface{}, len(e.EventData))
		for k, v := range e.EventData {
			c.EventData[k] = v
		}
	}
	return &c
}

// appendEvent 追加一条事件，调用方必须持有写锁
func (m *MemoryServiceStore) appendEvent(serviceID, eventType string, data map[string]interface{}) {
	m.events[serviceID] = append(m.events[serviceID], &model.ServiceEvent{
		ID:        uuid.New().String(),
		ServiceID: serviceID,
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now().UTC(),
	})
}

// Create 创建服务记录，三元组冲突返回冲突错误
func (m *MemoryServiceStore) Create(ctx context.Context, svc *model.Service) (*model.Service, error) {
	if svc == nil || svc.Name == "" || svc.Host == "" || svc.Port <= 0 {
		return nil, NewInvalidArgumentError("服务名称、主机和端口不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := endpointKey(svc.Name, svc.Host, svc.Port)
	if _, exists := m.endpoints[key]; exists {
		return nil, NewConflictError("服务已存在相同的名称、主机和端口")
	}

	now := time.Now().UTC()
	stored := cloneService(svc)
	stored.ID = uuid.New().String()
	stored.Status = model.StatusUnknown
	stored.HealthCheckFailures = 0
	if stored.HealthCheckInterval <= 0 {
		stored.HealthCheckInterval = 30
	}
	if stored.HealthCheckTimeout <= 0 {
		stored.HealthCheckTimeout = 10
	}
	stored.RegisteredAt = now
	stored.LastSeenAt = now
	stored.UpdatedAt = now
	stored.Version = 1

	m.services[stored.ID] = stored
	m.endpoints[key] = stored.ID
	m.appendEvent(stored.ID, model.EventServiceRegistered, map[string]interface{}{
		"service_name": stored.Name,
		"host":         stored.Host,
		"port":         stored.Port,
	})

	return cloneService(stored), nil
}

// GetService 按ID获取服务
func (m *MemoryServiceStore) GetService(ctx context.Context, serviceID string) (*model.Service, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	svc, ok := m.services[serviceID]
	if !ok {
		return nil, NewNotFoundError("服务不存在")
	}
	return cloneService(svc), nil
}

// GetByEndpoint 按 (name, host, port) 三元组获取服务
func (m *MemoryServiceStore) GetByEndpoint(ctx context.Context, name, host string, port int) (*model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.endpoints[endpointKey(name, host, port)]
	if !ok {
		return nil, NewNotFoundError("服务不存在")
	}
	return cloneService(m.services[id]), nil
}

// Update 应用部分字段更新，写锁起到行锁的作用
func (m *MemoryServiceStore) Update(ctx context.Context, serviceID string, update model.ServiceUpdate, expectedVersion *int) (*model.Service, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[serviceID]
	if !ok {
		return nil, NewNotFoundError("服务不存在")
	}

	// 乐观锁检查：版本不符说明已被其他进程修改
	if expectedVersion != nil && svc.Version != *expectedVersion {
		return nil, NewConflictError("服务已被其他进程修改")
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
		svc.Metadata = cloneMetadata(*update.Metadata)
	}
	now := time.Now().UTC()
	svc.Version++
	svc.LastSeenAt = now
	svc.UpdatedAt = now

	if svc.Status != oldStatus {
		m.appendEvent(svc.ID, model.EventStatusChange, map[string]interface{}{
			"old_status": string(oldStatus),
			"new_status": string(svc.Status),
		})
	}

	return cloneService(svc), nil
}

// Delete 删除服务，事件随之级联清除
func (m *MemoryServiceStore) Delete(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return NewInvalidArgumentError("服务ID不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[serviceID]
	if !ok {
		return NewNotFoundError("服务不存在")
	}

	// 与MySQL实现一致：先记录注销事件，再被级联删除一并清除
	m.appendEvent(svc.ID, model.EventServiceUnregistered, map[string]interface{}{
		"service_name": svc.Name,
	})

	delete(m.endpoints, endpointKey(svc.Name, svc.Host, svc.Port))
	delete(m.services, serviceID)
	delete(m.events, serviceID)
	return nil
}

// ListServices 按过滤条件列出服务，按名称升序排列
func (m *MemoryServiceStore) ListServices(ctx context.Context, filter model.ServiceFilter) ([]*model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make([]*model.Service, 0, len(m.services))
	for _, svc := range m.services {
		if filter.Type != nil && svc.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && svc.Status != *filter.Status {
			continue
		}
		if filter.HasTag() {
			if svc.Metadata.Tags == nil || svc.Metadata.Tags[filter.TagKey] != filter.TagValue {
				continue
			}
		}
		services = append(services, cloneService(svc))
	}

	sort.Slice(services, func(i, j int) bool {
		if services[i].Name != services[j].Name {
			return services[i].Name < services[j].Name
		}
		if services[i].Host != services[j].Host {
			return services[i].Host < services[j].Host
		}
		return services[i].Port < services[j].Port
	})
	return services, nil
}

// FindByName 按名称查找服务实例，最新的在前
func (m *MemoryServiceStore) FindByName(ctx context.Context, name string, status *model.ServiceStatus, excludeUnhealthy bool) ([]*model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make([]*model.Service, 0)
	for _, svc := range m.services {
		if svc.Name != name {
			continue
		}
		if status != nil {
			if svc.Status != *status {
				continue
			}
		} else if excludeUnhealthy && svc.Status == model.StatusUnhealthy {
			continue
		}
		services = append(services, cloneService(svc))
	}

	sort.SliceStable(services, func(i, j int) bool {
		return services[i].LastSeenAt.After(services[j].LastSeenAt)
	})
	return services, nil
}

// UpdateHealthStatus 应用一次健康信号
func (m *MemoryServiceStore) UpdateHealthStatus(ctx context.Context, serviceID string, healthy bool, checkTime *time.Time) (*model.Service, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[serviceID]
	if !ok {
		return nil, NewNotFoundError("服务不存在")
	}

	now := time.Now().UTC()
	ct := now
	if checkTime != nil {
		ct = *checkTime
	}
	oldStatus, changed := model.ApplyHealthSignal(svc, healthy, ct, now)
	svc.Version++
	svc.UpdatedAt = now

	if changed {
		m.appendEvent(svc.ID, model.EventStatusChange, map[string]interface{}{
			"old_status": string(oldStatus),
			"new_status": string(svc.Status),
		})
	}

	return cloneService(svc), nil
}

// CleanupStaleServices 删除 last_seen_at 早于 before 的服务
func (m *MemoryServiceStore) CleanupStaleServices(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, svc := range m.services {
		if svc.LastSeenAt.Before(before) {
			delete(m.endpoints, endpointKey(svc.Name, svc.Host, svc.Port))
			delete(m.services, id)
			delete(m.events, id)
			count++
		}
	}
	return count, nil
}

// ListEvents 按创建时间升序返回服务的审计事件
func (m *MemoryServiceStore) ListEvents(ctx context.Context, serviceID string) ([]*model.ServiceEvent, error) {
	if serviceID == "" {
		return nil, NewInvalidArgumentError("服务ID不能为空")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.services[serviceID]; !ok {
		return nil, NewNotFoundError("服务不存在")
	}

	events := make([]*model.ServiceEvent, 0, len(m.events[serviceID]))
	for _, e := range m.events[serviceID] {
		events = append(events, cloneEvent(e))
	}
	return events, nil
}

// Ping 内存存储总是可用
func (m *MemoryServiceStore) Ping(ctx context.Context) error {
	return nil
}
