//go:build !windows

package security

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("仅支持 Windows")

// RestrictObjectAccess 非 Windows 平台不支持。
func RestrictObjectAccess(_ string) error {
	return errUnsupported
}

// BuildPipeSecurityDescriptor 非 Windows 平台返回基础 SDDL。
func BuildPipeSecurityDescriptor() (string, error) {
	return ObjectSDDL, errUnsupported
}

// NewPipeClientValidator 非 Windows 平台不做校验。
func NewPipeClientValidator(_ []string) func(net.Conn) error {
	return func(net.Conn) error { return nil }
}
