package driver

import "strings"

// Device 定义与内核驱动交互的抽象接口。
// 上层依赖此接口而非具体实现，便于测试和解耦。
type Device interface {
	IoControl(code uint32, inBuf []byte, outSize uint32) ([]byte, error)
	Close() error
}

// ServiceManager 服务控制管理器连接。
//
// CreateService 在同名服务已存在时返回 ErrServiceExists；
// StartService 在服务已运行时返回 ErrServiceRunning；
// StopService 在服务未运行时返回 ErrServiceNotActive；
// StopService / DeleteService 在服务不存在时返回 ErrServiceNotFound。
type ServiceManager interface {
	CreateService(name, binaryPath string) error
	StartService(name string) error
	StopService(name string) error
	DeleteService(name string) error
	Disconnect() error
}

// Platform 隔离所有原生调用: 服务管理、设备句柄与 ACL 设置。
type Platform interface {
	ConnectServiceManager() (ServiceManager, error)
	OpenDevice(devicePath string) (Device, error)
	RestrictDeviceAccess(devicePath string) error
}

// DevicePath 返回设备标识对应的 Win32 设备路径。
func DevicePath(deviceID string) string {
	return `\\.\` + deviceID
}

// ntPrefix NT 对象管理器的 DOS 设备前缀。
const ntPrefix = `\??\`

// KernelImagePath 返回写入服务 ImagePath 的驱动路径。
// 内核驱动的 ImagePath 不做命令行解析，路径不能带引号，含空格时原样保存。
func KernelImagePath(binaryPath string) string {
	if strings.HasPrefix(binaryPath, ntPrefix) {
		return binaryPath
	}
	return ntPrefix + strings.Trim(binaryPath, `"`)
}
