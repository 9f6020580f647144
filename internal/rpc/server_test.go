package rpc

import (
	"errors"
	"io"
	"net"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmenMon/OmenMon-sub001/internal/service"
)

type closedBridge struct{}

func (closedBridge) IsOpen() bool        { return false }
func (closedBridge) Status() string      { return "没有可写的驱动文件路径" }
func (closedBridge) ServiceName() string { return "R0test" }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestServeConn(t *testing.T) {
	srv, err := NewServer(closedBridge{}, nil, nil, testLogger())
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.ServeConn(serverConn)
		close(done)
	}()

	client := jsonrpc.NewClient(clientConn)

	var ping service.PingReply
	require.NoError(t, client.Call(ServiceName+".Ping", &service.PingArgs{}, &ping))
	assert.Equal(t, "ok", ping.Status)

	var status service.StatusReply
	require.NoError(t, client.Call(ServiceName+".Status", &service.StatusArgs{}, &status))
	assert.False(t, status.Open)
	assert.Equal(t, "R0test", status.ServiceName)
	assert.Equal(t, "没有可写的驱动文件路径", status.Diagnostics)

	var msr service.MSRReply
	err = client.Call(ServiceName+".ReadMSR", &service.MSRArgs{Index: 0x1B}, &msr)
	assert.EqualError(t, err, "驱动未加载")

	require.NoError(t, client.Close())
	<-done
}

func TestServeConnRejected(t *testing.T) {
	srv, err := NewServer(closedBridge{}, nil, func(net.Conn) error { return errors.New("客户端SID不匹配") }, testLogger())
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	go srv.ServeConn(serverConn)

	client := jsonrpc.NewClient(clientConn)
	defer client.Close()

	var ping service.PingReply
	assert.Error(t, client.Call(ServiceName+".Ping", &service.PingArgs{}, &ping))
}

// blockingBridge 的 Status 阻塞到 release 关闭。
type blockingBridge struct {
	closedBridge
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBridge) Status() string {
	close(b.entered)
	<-b.release
	return ""
}

func TestShutdownWaitsForInflightCalls(t *testing.T) {
	bridge := &blockingBridge{entered: make(chan struct{}), release: make(chan struct{})}
	srv, err := NewServer(bridge, nil, nil, testLogger())
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()
	go srv.ServeConn(serverConn)

	client := jsonrpc.NewClient(clientConn)
	defer client.Close()
	go func() {
		var status service.StatusReply
		_ = client.Call(ServiceName+".Status", &service.StatusArgs{}, &status)
	}()
	<-bridge.entered

	stopped := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(stopped)
	}()

	isStopped := func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}
	assert.Never(t, isStopped, 100*time.Millisecond, 10*time.Millisecond)

	close(bridge.release)
	assert.Eventually(t, isStopped, time.Second, 10*time.Millisecond)
}

func TestServeConnAfterShutdown(t *testing.T) {
	srv, err := NewServer(closedBridge{}, nil, nil, testLogger())
	require.NoError(t, err)
	srv.Shutdown()

	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.ServeConn(serverConn)
		close(done)
	}()
	<-done

	client := jsonrpc.NewClient(clientConn)
	defer client.Close()

	var ping service.PingReply
	assert.Error(t, client.Call(ServiceName+".Ping", &service.PingArgs{}, &ping))
}
