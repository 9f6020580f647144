//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
	"github.com/sirupsen/logrus"
)

// Listen 创建 Windows 命名管道监听器。sddl 为空时使用 winio 默认安全描述符。
func Listen(pipeName, sddl string, log *logrus.Entry) (net.Listener, error) {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: sddl,
		MessageMode:        false,
		InputBufferSize:    65536,
		OutputBufferSize:   65536,
	}
	ln, err := winio.ListenPipe(pipeName, cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("正在监听命名管道: %s", pipeName)
	return ln, nil
}

// Dial 连接命名管道，供命令行客户端使用。
func Dial(pipeName string) (net.Conn, error) {
	return winio.DialPipe(pipeName, nil)
}
