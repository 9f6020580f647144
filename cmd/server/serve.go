package main

import (
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OmenMon/OmenMon-sub001/internal/ipc"
	rpcserver "github.com/OmenMon/OmenMon-sub001/internal/rpc"
	"github.com/OmenMon/OmenMon-sub001/internal/security"
)

type cmdServe struct {
	global *cmdGlobal
}

func (c *cmdServe) command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the driver bridge and serve register operations over a named pipe",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
}

func (c *cmdServe) run(cmd *cobra.Command, args []string) error {
	log := logrus.NewEntry(c.global.logger)
	log.Infof("ring0d 正在启动... (版本: %s, 构建时间: %s)", version, buildTime)

	bridge, regs := c.global.newBridge()
	bridge.Open()
	defer bridge.Close()

	if bridge.IsOpen() {
		if ok, v := regs.DriverVersion(); ok {
			log.Infof("驱动已打开，服务 %s，驱动版本 0x%08X", bridge.ServiceName(), v)
		}
	} else {
		// 权限不足或驱动被阻止属于预期情况，继续提供状态查询
		log.Warnf("驱动未打开，硬件功能不可用:\n%s", bridge.Status())
	}

	sddl, err := security.BuildPipeSecurityDescriptor()
	if err != nil {
		log.Warnf("构造管道安全描述符失败，仅允许 SYSTEM 与管理员: %v", err)
	}

	ln, err := ipc.Listen(c.global.cfg.IPC.PipeName, sddl, log.WithField("component", "ipc"))
	if err != nil {
		return err
	}
	defer ln.Close()

	srv, err := rpcserver.NewServer(bridge, regs, security.NewPipeClientValidator(c.global.cfg.IPC.AllowedImages), log)
	if err != nil {
		return err
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Errorf("RPC 服务器错误: %v", err)
		}
	}()

	log.Info("ring0d 已启动，等待客户端连接...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("正在关闭服务...")
	// 先停止接受连接并等待进行中的调用结束，再由 defer 关闭驱动桥
	ln.Close()
	srv.Shutdown()
	return nil
}
