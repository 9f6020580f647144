//go:build !windows

package ipc

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

var errUnsupported = errors.New("命名管道仅支持 Windows")

// Listen 非 Windows 平台不支持。
func Listen(_, _ string, _ *logrus.Entry) (net.Listener, error) {
	return nil, errUnsupported
}

// Dial 非 Windows 平台不支持。
func Dial(_ string) (net.Conn, error) {
	return nil, errUnsupported
}
