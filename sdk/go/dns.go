package registry

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// ResolverConfig DNS解析器配置
type ResolverConfig struct {
	// DNS服务器地址，如 127.0.0.1:8600
	Server string
	// 服务域名后缀，默认 registry.local
	Zone string
	// 解析结果缓存时间，默认30秒
	CacheTTL time.Duration
	// 单次查询超时时间，默认5秒
	Timeout time.Duration
}

// Resolver 基于DNS接口的服务发现客户端
//
// 只返回健康实例：A记录解析IP地址，SRV记录解析主机和端口。
// 解析结果在本地缓存一段时间，减少对注册中心的查询压力。
type Resolver struct {
	server   string
	zone     string
	cacheTTL time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	aCache   map[string]aCacheEntry
	srvCache map[string]srvCacheEntry
}

type aCacheEntry struct {
	addrs      []string
	expiration time.Time
}

type srvCacheEntry struct {
	targets    []*net.SRV
	expiration time.Time
}

// NewResolver 创建DNS服务发现客户端
func NewResolver(config *ResolverConfig) (*Resolver, error) {
	if config == nil || config.Server == "" {
		return nil, fmt.Errorf("DNS服务器地址不能为空")
	}

	zone := strings.Trim(strings.ToLower(config.Zone), ".")
	if zone == "" {
		zone = "registry.local"
	}

	cacheTTL := config.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Resolver{
		server:   config.Server,
		zone:     zone,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		aCache:   make(map[string]aCacheEntry),
		srvCache: make(map[string]srvCacheEntry),
	}, nil
}

// ResolveHost 解析服务名对应的一个IP地址
//
// 存在多个健康实例时随机返回其中一个。
func (r *Resolver) ResolveHost(ctx context.Context, serviceName string) (string, error) {
	if addr := r.hostFromCache(serviceName); addr != "" {
		return addr, nil
	}

	queryName := dns.Fqdn(fmt.Sprintf("%s.%s", serviceName, r.zone))
	msg, err := r.exchange(ctx, queryName, dns.TypeA)
	if err != nil {
		return "", err
	}

	var ips []string
	for _, rr := range msg.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("未找到服务[%s]的地址", serviceName)
	}

	r.updateHostCache(serviceName, ips)
	return ips[rand.Intn(len(ips))], nil
}

// ResolveSRV 解析服务名对应的一条SRV记录
//
// 按SRV权重随机选择，权重全为0时等概率选择。
func (r *Resolver) ResolveSRV(ctx context.Context, serviceName string) (*net.SRV, error) {
	if srv := r.srvFromCache(serviceName); srv != nil {
		return srv, nil
	}

	queryName := dns.Fqdn(fmt.Sprintf("_%s._tcp.%s", serviceName, r.zone))
	msg, err := r.exchange(ctx, queryName, dns.TypeSRV)
	if err != nil {
		return nil, err
	}

	var records []*net.SRV
	for _, rr := range msg.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, &net.SRV{
				Target:   srv.Target,
				Port:     srv.Port,
				Priority: srv.Priority,
				Weight:   srv.Weight,
			})
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("未找到服务[%s]的SRV记录", serviceName)
	}

	r.updateSRVCache(serviceName, records)
	return pickSRVByWeight(records), nil
}

// ResolveService 解析服务地址，返回 主机:端口 格式
//
// 优先使用SRV记录获取端口，失败时退回A记录（此时只有IP没有端口）。
func (r *Resolver) ResolveService(ctx context.Context, serviceName string) (string, error) {
	if srv, err := r.ResolveSRV(ctx, serviceName); err == nil && srv != nil {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(srv.Target, "."), srv.Port), nil
	}

	return r.ResolveHost(ctx, serviceName)
}

// 发送DNS查询并检查响应码
func (r *Resolver) exchange(ctx context.Context, queryName string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(queryName, qtype)

	c := &dns.Client{Timeout: r.timeout}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, _, err := c.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("DNS查询[%s]失败: %w", queryName, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("DNS查询[%s]返回错误: %s", queryName, dns.RcodeToString[resp.Rcode])
	}
	return resp, nil
}

func (r *Resolver) hostFromCache(serviceName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.aCache[serviceName]; ok && time.Now().Before(entry.expiration) {
		return entry.addrs[rand.Intn(len(entry.addrs))]
	}
	return ""
}

func (r *Resolver) updateHostCache(serviceName string, ips []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.aCache[serviceName] = aCacheEntry{
		addrs:      ips,
		expiration: time.Now().Add(r.cacheTTL),
	}
}

func (r *Resolver) srvFromCache(serviceName string) *net.SRV {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.srvCache[serviceName]; ok && time.Now().Before(entry.expiration) {
		return pickSRVByWeight(entry.targets)
	}
	return nil
}

func (r *Resolver) updateSRVCache(serviceName string, records []*net.SRV) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.srvCache[serviceName] = srvCacheEntry{
		targets:    records,
		expiration: time.Now().Add(r.cacheTTL),
	}
}

// 按权重随机选择一条SRV记录
func pickSRVByWeight(records []*net.SRV) *net.SRV {
	if len(records) == 0 {
		return nil
	}
	if len(records) == 1 {
		return records[0]
	}

	totalWeight := 0
	for _, srv := range records {
		totalWeight += int(srv.Weight)
	}
	if totalWeight == 0 {
		return records[rand.Intn(len(records))]
	}

	n := rand.Intn(totalWeight)
	for _, srv := range records {
		n -= int(srv.Weight)
		if n < 0 {
			return srv
		}
	}
	return records[0]
}
