package dns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
	discservice "github.com/hewenyu/service-registry/internal/discovery/service"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// startTestDNS 在回环地址的非标准端口上启动DNS服务器，避免需要root权限
func startTestDNS(t *testing.T, port int) (*serviceStore.MemoryServiceStore, string) {
	t.Helper()

	store := serviceStore.NewMemoryServiceStore()
	logger := config.NewNopLogger()
	discovery := discservice.NewDiscoveryService(store, logger)

	cfg := &config.Config{}
	cfg.DNS.ListenAddress = "127.0.0.1"
	cfg.DNS.Port = port
	cfg.DNS.Domain = "registry.local"
	cfg.DNS.RecordTTL = 30

	server := NewServer(cfg, logger, discovery)
	require.NoError(t, server.Start(), "启动DNS服务器失败")
	t.Cleanup(func() {
		require.NoError(t, server.Stop(), "停止DNS服务器失败")
	})

	// 确保服务器有时间启动
	time.Sleep(100 * time.Millisecond)
	return store, fmt.Sprintf("127.0.0.1:%d", port)
}

// seedHealthyService 注册一个实例并通过健康信号使其变为健康
func seedHealthyService(t *testing.T, store *serviceStore.MemoryServiceStore, name, host string, port int) *model.Service {
	t.Helper()
	ctx := context.Background()

	svc, err := store.Create(ctx, &model.Service{
		Name: name, Type: model.TypeAPI, Host: host, Port: port,
	})
	require.NoError(t, err)
	_, err = store.UpdateHealthStatus(ctx, svc.ID, true, nil)
	require.NoError(t, err)
	return svc
}

func exchange(t *testing.T, addr, qname string, qtype uint16, proto string) *dns.Msg {
	t.Helper()
	c := new(dns.Client)
	c.Net = proto
	m := new(dns.Msg)
	m.SetQuestion(qname, qtype)

	r, _, err := c.Exchange(m, addr)
	require.NoError(t, err, "DNS查询失败")
	require.NotNil(t, r, "未收到DNS响应")
	return r
}

func TestDNSServer(t *testing.T) {
	store, addr := startTestDNS(t, 15353)
	ctx := context.Background()

	seedHealthyService(t, store, "user-service", "192.168.1.100", 8080)
	seedHealthyService(t, store, "user-service", "192.168.1.200", 8081)
	// 主机名实例无法给出A记录，但应该出现在SRV应答中
	seedHealthyService(t, store, "user-service", "db.internal.example.com", 8082)
	// 未上报健康的实例不应该出现在任何应答中
	_, err := store.Create(ctx, &model.Service{
		Name: "user-service", Type: model.TypeAPI, Host: "192.168.1.250", Port: 8083,
	})
	require.NoError(t, err)

	t.Run("ARecordQuery", func(t *testing.T) {
		r := exchange(t, addr, "user-service.registry.local.", dns.TypeA, "udp")
		require.Equal(t, dns.RcodeSuccess, r.Rcode)
		require.Len(t, r.Answer, 2, "只有主机为IPv4地址的健康实例才有A记录")

		ips := make(map[string]bool)
		for _, ans := range r.Answer {
			aRecord, ok := ans.(*dns.A)
			require.True(t, ok, "响应不是A记录: %T", ans)
			assert.Equal(t, uint32(30), aRecord.Hdr.Ttl)
			ips[aRecord.A.String()] = true
		}
		assert.True(t, ips["192.168.1.100"] && ips["192.168.1.200"],
			"A记录应该覆盖全部健康的IPv4实例，实际: %v", ips)
	})

	t.Run("SRVRecordQuery", func(t *testing.T) {
		r := exchange(t, addr, "_user-service._tcp.registry.local.", dns.TypeSRV, "udp")
		require.Equal(t, dns.RcodeSuccess, r.Rcode)
		require.Len(t, r.Answer, 3, "每个健康实例都应该有SRV记录")

		ports := make(map[uint16]string)
		for _, ans := range r.Answer {
			srvRecord, ok := ans.(*dns.SRV)
			require.True(t, ok, "响应不是SRV记录: %T", ans)
			assert.Equal(t, uint16(10), srvRecord.Priority)
			assert.Equal(t, uint16(10), srvRecord.Weight)
			ports[srvRecord.Port] = srvRecord.Target
		}
		assert.Contains(t, ports, uint16(8080))
		assert.Contains(t, ports, uint16(8081))
		assert.Equal(t, "db.internal.example.com.", ports[8082], "主机名实例应该以主机名作为目标")

		// IP实例的目标是合成标签，附加区给出对应的A记录
		require.Len(t, r.Extra, 2, "每个IP实例都应该有附加A记录")
		for _, extra := range r.Extra {
			aRecord, ok := extra.(*dns.A)
			require.True(t, ok, "附加记录不是A记录: %T", extra)
			assert.Contains(t, aRecord.Hdr.Name, "instance-")
		}
	})

	t.Run("TCPQuery", func(t *testing.T) {
		r := exchange(t, addr, "user-service.registry.local.", dns.TypeA, "tcp")
		assert.Equal(t, dns.RcodeSuccess, r.Rcode)
		assert.Len(t, r.Answer, 2, "TCP查询应该与UDP返回相同的记录")
	})

	t.Run("UnknownServiceReturnsNXDomain", func(t *testing.T) {
		r := exchange(t, addr, "missing-service.registry.local.", dns.TypeA, "udp")
		assert.Equal(t, dns.RcodeNameError, r.Rcode)
		assert.Empty(t, r.Answer)
	})

	t.Run("NoHealthyInstancesReturnsNXDomain", func(t *testing.T) {
		// 实例存在但从未上报健康
		_, err := store.Create(ctx, &model.Service{
			Name: "silent-service", Type: model.TypeAPI, Host: "192.168.2.1", Port: 9000,
		})
		require.NoError(t, err)

		r := exchange(t, addr, "silent-service.registry.local.", dns.TypeA, "udp")
		assert.Equal(t, dns.RcodeNameError, r.Rcode)
	})

	t.Run("OutOfZoneRefused", func(t *testing.T) {
		r := exchange(t, addr, "example.com.", dns.TypeA, "udp")
		assert.Equal(t, dns.RcodeRefused, r.Rcode, "区域外的查询应该被拒绝")
	})

	t.Run("UnsupportedTypeEmptyAnswer", func(t *testing.T) {
		r := exchange(t, addr, "user-service.registry.local.", dns.TypeMX, "udp")
		assert.Equal(t, dns.RcodeSuccess, r.Rcode)
		assert.Empty(t, r.Answer, "区域内不支持的查询类型应该返回空应答")
	})
}

func TestServiceNameParsing(t *testing.T) {
	cfg := &config.Config{}
	cfg.DNS.Domain = "registry.local"
	cfg.DNS.RecordTTL = 30
	server := NewServer(cfg, config.NewNopLogger(), nil)

	t.Run("AName", func(t *testing.T) {
		name, ok := server.serviceNameForA("user-service.registry.local")
		require.True(t, ok)
		assert.Equal(t, "user-service", name)

		// 区域顶点没有服务名
		_, ok = server.serviceNameForA("registry.local")
		assert.False(t, ok)

		// 多级标签不是合法的服务域名
		_, ok = server.serviceNameForA("a.b.registry.local")
		assert.False(t, ok)

		// SRV形式的名称不应该匹配A解析
		_, ok = server.serviceNameForA("_user._tcp.registry.local")
		assert.False(t, ok)
	})

	t.Run("SRVName", func(t *testing.T) {
		name, ok := server.serviceNameForSRV("_user-service._tcp.registry.local")
		require.True(t, ok)
		assert.Equal(t, "user-service", name)

		// 缺少下划线前缀
		_, ok = server.serviceNameForSRV("user-service._tcp.registry.local")
		assert.False(t, ok)

		// 协议标签必须是_tcp
		_, ok = server.serviceNameForSRV("_user-service._udp.registry.local")
		assert.False(t, ok)

		_, ok = server.serviceNameForSRV("_._tcp.registry.local")
		assert.False(t, ok)
	})
}
