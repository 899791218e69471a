package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/config"
	discservice "github.com/hewenyu/service-registry/internal/discovery/service"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// Server 基于注册数据提供权威DNS查询
// 只应答本区域内的A和SRV查询，不做递归解析也不缓存应答，
// 保证每次查询都反映最新的健康实例集合
type Server struct {
	discovery discservice.DiscoveryService
	logger    config.Logger

	zone string // 规范化后的区域后缀，不带结尾点
	ttl  uint32
	addr string

	udpServer  *dns.Server
	tcpServer  *dns.Server
	shutdownWg sync.WaitGroup
}

// NewServer 创建一个新的DNS服务实例
func NewServer(cfg *config.Config, logger config.Logger, discovery discservice.DiscoveryService) *Server {
	return &Server{
		discovery: discovery,
		logger:    logger,
		zone:      strings.ToLower(strings.Trim(cfg.DNS.Domain, ".")),
		ttl:       uint32(cfg.DNS.RecordTTL),
		addr:      fmt.Sprintf("%s:%d", cfg.DNS.ListenAddress, cfg.DNS.Port),
	}
}

// Start 启动UDP和TCP两个DNS服务器
func (s *Server) Start() error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleRequest)

	s.udpServer = &dns.Server{
		Addr:    s.addr,
		Net:     "udp",
		Handler: mux,
		UDPSize: 65535,
	}
	s.tcpServer = &dns.Server{
		Addr:    s.addr,
		Net:     "tcp",
		Handler: mux,
	}

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.logger.Info("UDP DNS服务器启动", zap.String("addr", s.addr), zap.String("zone", s.zone))
		if err := s.udpServer.ListenAndServe(); err != nil {
			s.logger.Error("UDP DNS服务器异常退出", zap.Error(err))
		}
	}()

	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.logger.Info("TCP DNS服务器启动", zap.String("addr", s.addr), zap.String("zone", s.zone))
		if err := s.tcpServer.ListenAndServe(); err != nil {
			s.logger.Error("TCP DNS服务器异常退出", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止DNS服务器并等待监听goroutine退出
func (s *Server) Stop() error {
	var errs []error

	if s.udpServer != nil {
		if err := s.udpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("关闭UDP服务器失败: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("关闭TCP服务器失败: %w", err))
		}
	}

	s.shutdownWg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("停止DNS服务器时发生错误: %v", errs)
	}
	return nil
}

// handleRequest 处理单个DNS查询
func (s *Server) handleRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if len(r.Question) == 0 {
		s.writeMsg(w, m)
		return
	}

	q := r.Question[0]
	qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	s.logger.Debug("收到DNS查询",
		zap.String("name", q.Name),
		zap.String("type", dns.TypeToString[q.Qtype]))

	// 区域外的查询一律拒绝，本服务不做递归解析
	if qname != s.zone && !strings.HasSuffix(qname, "."+s.zone) {
		m.Rcode = dns.RcodeRefused
		s.writeMsg(w, m)
		return
	}

	switch q.Qtype {
	case dns.TypeA:
		s.answerA(m, q, qname)
	case dns.TypeSRV:
		s.answerSRV(m, q, qname)
	default:
		// 区域内的其他查询类型返回空应答
	}

	s.writeMsg(w, m)
}

// serviceNameForA 从 <name>.<zone> 形式的域名中提取服务名
func (s *Server) serviceNameForA(qname string) (string, bool) {
	prefix, ok := s.stripZone(qname)
	if !ok || prefix == "" || strings.Contains(prefix, ".") || strings.HasPrefix(prefix, "_") {
		return "", false
	}
	return prefix, true
}

// serviceNameForSRV 从 _<name>._tcp.<zone> 形式的域名中提取服务名
func (s *Server) serviceNameForSRV(qname string) (string, bool) {
	prefix, ok := s.stripZone(qname)
	if !ok {
		return "", false
	}
	labels := strings.Split(prefix, ".")
	if len(labels) != 2 || labels[1] != "_tcp" || !strings.HasPrefix(labels[0], "_") || len(labels[0]) < 2 {
		return "", false
	}
	return labels[0][1:], true
}

// stripZone 去掉域名中的区域后缀
func (s *Server) stripZone(qname string) (string, bool) {
	if qname == s.zone {
		return "", true
	}
	if !strings.HasSuffix(qname, "."+s.zone) {
		return "", false
	}
	return qname[:len(qname)-len(s.zone)-1], true
}

// lookupHealthy 查询指定服务的健康实例
func (s *Server) lookupHealthy(name string) ([]*dnsInstance, error) {
	services, err := s.discovery.Discover(context.Background(), name, "")
	if err != nil {
		return nil, err
	}

	instances := make([]*dnsInstance, 0, len(services))
	for _, svc := range services {
		instances = append(instances, &dnsInstance{
			host: svc.Host,
			port: uint16(svc.Port),
			ip:   net.ParseIP(svc.Host),
		})
	}
	return instances, nil
}

// dnsInstance 一个可用于构造DNS记录的服务实例
type dnsInstance struct {
	host string
	port uint16
	ip   net.IP // 主机名不是IP时为nil
}

// answerA 应答A记录查询，每个主机为IPv4地址的健康实例对应一条记录
func (s *Server) answerA(m *dns.Msg, q dns.Question, qname string) {
	name, ok := s.serviceNameForA(qname)
	if !ok {
		m.Rcode = dns.RcodeNameError
		return
	}

	instances, err := s.lookupHealthy(name)
	if err != nil {
		s.dnsLookupError(m, name, err)
		return
	}

	for _, inst := range instances {
		// 主机名不是IPv4地址的实例无法给出A记录
		if inst.ip == nil || inst.ip.To4() == nil {
			continue
		}
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    s.ttl,
			},
			A: inst.ip.To4(),
		})
	}

	if len(m.Answer) == 0 {
		m.Rcode = dns.RcodeNameError
	}
}

// answerSRV 应答SRV记录查询，每个健康实例对应一条记录
// 主机为IP的实例会合成实例标签作为目标，并在附加区给出对应的A记录
func (s *Server) answerSRV(m *dns.Msg, q dns.Question, qname string) {
	name, ok := s.serviceNameForSRV(qname)
	if !ok {
		m.Rcode = dns.RcodeNameError
		return
	}

	instances, err := s.lookupHealthy(name)
	if err != nil {
		s.dnsLookupError(m, name, err)
		return
	}

	for idx, inst := range instances {
		target := dns.Fqdn(inst.host)
		var glue *dns.A
		if inst.ip != nil {
			target = fmt.Sprintf("instance-%d.%s.%s.", idx, name, s.zone)
			if ip4 := inst.ip.To4(); ip4 != nil {
				glue = &dns.A{
					Hdr: dns.RR_Header{
						Name:   target,
						Rrtype: dns.TypeA,
						Class:  dns.ClassINET,
						Ttl:    s.ttl,
					},
					A: ip4,
				}
			}
		}

		m.Answer = append(m.Answer, &dns.SRV{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeSRV,
				Class:  dns.ClassINET,
				Ttl:    s.ttl,
			},
			Priority: 10,
			Weight:   10,
			Port:     inst.port,
			Target:   target,
		})
		if glue != nil {
			m.Extra = append(m.Extra, glue)
		}
	}

	if len(m.Answer) == 0 {
		m.Rcode = dns.RcodeNameError
	}
}

// dnsLookupError 把发现层错误映射为DNS应答码
// 非法服务名视为域名不存在，存储故障报告服务器失败
func (s *Server) dnsLookupError(m *dns.Msg, name string, err error) {
	if se, ok := serviceStore.AsStoreError(err); ok && se.Code == serviceStore.ErrInvalidArgument {
		m.Rcode = dns.RcodeNameError
		return
	}
	s.logger.Error("DNS查询服务实例失败", zap.String("service_name", name), zap.Error(err))
	m.Rcode = dns.RcodeServerFailure
}

func (s *Server) writeMsg(w dns.ResponseWriter, m *dns.Msg) {
	if err := w.WriteMsg(m); err != nil {
		s.logger.Error("发送DNS响应失败", zap.Error(err))
	}
}
