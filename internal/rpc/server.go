package rpc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/OmenMon/OmenMon-sub001/internal/service"
)

// ServiceName JSON-RPC 服务注册名，方法形如 "Ring0.ReadMSR"。
const ServiceName = "Ring0"

// Server 封装 JSON-RPC 服务器。
type Server struct {
	rpcServer *rpc.Server
	validate  func(net.Conn) error
	log       *logrus.Entry

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewServer 创建 JSON-RPC 服务器并注册服务。
// validate 用于校验连接的客户端，可为 nil。
func NewServer(bridge service.Bridge, regs service.RegisterOps, validate func(net.Conn) error, log *logrus.Entry) (*Server, error) {
	s := rpc.NewServer()

	ring0 := &service.Ring0Service{
		Bridge: bridge,
		Regs:   regs,
	}
	if err := s.RegisterName(ServiceName, ring0); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: s,
		validate:  validate,
		log:       log.WithField("component", "rpc"),
		conns:     map[net.Conn]struct{}{},
	}, nil
}

// Serve 接受连接并使用 JSON-RPC 处理请求，监听器关闭时返回。
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("JSON-RPC 服务器已就绪")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn 处理单个连接直到其关闭。Shutdown 之后的连接直接关闭。
func (s *Server) ServeConn(conn net.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	if s.validate != nil {
		if err := s.validate(conn); err != nil {
			s.log.Warnf("拒绝连接: %v", err)
			return
		}
	}

	s.log.Debugf("新连接: %s", conn.RemoteAddr())
	s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	s.log.Debugf("连接已关闭: %s", conn.RemoteAddr())
}

// Shutdown 关闭所有活动连接，并等待正在执行的调用返回。
// 返回后不会再有请求触达驱动桥，调用方可以安全地关闭它。
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}
