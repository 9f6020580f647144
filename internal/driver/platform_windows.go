//go:build windows

package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/OmenMon/OmenMon-sub001/internal/security"
)

// NativePlatform 返回基于 Win32 API 的平台实现。
func NativePlatform() Platform {
	return windowsPlatform{}
}

type windowsPlatform struct{}

func (windowsPlatform) ConnectServiceManager() (ServiceManager, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, fmt.Errorf("无法连接服务管理器(需要管理员权限): %w", err)
	}
	return &windowsServiceManager{m: m}, nil
}

func (windowsPlatform) OpenDevice(devicePath string) (Device, error) {
	return openClient(devicePath)
}

func (windowsPlatform) RestrictDeviceAccess(devicePath string) error {
	return security.RestrictObjectAccess(devicePath)
}

type windowsServiceManager struct {
	m *mgr.Mgr
}

// CreateService 直接调用 CreateServiceW。mgr.CreateService 会给路径加引号，
// 内核驱动的 ImagePath 带引号时 StartService 失败。
func (w *windowsServiceManager) CreateService(name, binaryPath string) error {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return fmt.Errorf("服务名无效: %w", err)
	}
	pathPtr, err := windows.UTF16PtrFromString(KernelImagePath(binaryPath))
	if err != nil {
		return fmt.Errorf("驱动路径无效: %w", err)
	}

	h, err := windows.CreateService(
		w.m.Handle, namePtr, namePtr,
		windows.SERVICE_ALL_ACCESS,
		windows.SERVICE_KERNEL_DRIVER,
		windows.SERVICE_DEMAND_START,
		windows.SERVICE_ERROR_NORMAL,
		pathPtr,
		nil, nil, nil, nil, nil,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_EXISTS) {
			return ErrServiceExists
		}
		return fmt.Errorf("CreateService err: %w", err)
	}
	return windows.CloseServiceHandle(h)
}

func (w *windowsServiceManager) StartService(name string) error {
	s, err := w.openService(name)
	if err != nil {
		return err
	}
	defer s.Close()

	if err = s.Start(); err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
			return ErrServiceRunning
		}
		return fmt.Errorf("StartService err: %w", err)
	}
	return nil
}

func (w *windowsServiceManager) StopService(name string) error {
	s, err := w.openService(name)
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.Control(svc.Stop)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
			return ErrServiceNotActive
		}
		return fmt.Errorf("ControlService err: %w", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, qErr := s.Query()
		if qErr != nil {
			return qErr
		}
		if st.State == svc.Stopped {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("停止服务超时")
}

func (w *windowsServiceManager) DeleteService(name string) error {
	s, err := w.openService(name)
	if err != nil {
		return err
	}
	defer s.Close()

	if err = s.Delete(); err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_MARKED_FOR_DELETE) {
			return nil
		}
		return fmt.Errorf("DeleteService err: %w", err)
	}
	return nil
}

func (w *windowsServiceManager) Disconnect() error {
	return w.m.Disconnect()
}

func (w *windowsServiceManager) openService(name string) (*mgr.Service, error) {
	s, err := w.m.OpenService(name)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("OpenService err: %w", err)
	}
	return s, nil
}

// client 通过 CreateFile 打开设备句柄，通过 DeviceIoControl 收发数据。
type client struct {
	mu     sync.Mutex
	handle windows.Handle
	path   string
}

// openClient 以独占方式打开驱动设备。
func openClient(devicePath string) (*client, error) {
	pathPtr, err := windows.UTF16PtrFromString(devicePath)
	if err != nil {
		return nil, fmt.Errorf("设备路径转换失败: %w", err)
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("打开设备失败 [%s]: %w", devicePath, err)
	}
	if handle == windows.InvalidHandle {
		return nil, fmt.Errorf("打开设备失败 [%s]: 无效句柄", devicePath)
	}

	return &client{handle: handle, path: devicePath}, nil
}

// Close 关闭设备句柄。
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == windows.InvalidHandle {
		return nil
	}
	err := windows.CloseHandle(c.handle)
	c.handle = windows.InvalidHandle
	return err
}

// IoControl 发送 IOCTL 请求到内核驱动，返回驱动写回的输出数据。
func (c *client) IoControl(code uint32, inBuf []byte, outSize uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == windows.InvalidHandle {
		return nil, ErrNotOpen
	}

	var inPtr *byte
	inLen := uint32(len(inBuf))
	if inLen > 0 {
		inPtr = &inBuf[0]
	}

	outBuf := make([]byte, outSize)
	var outPtr *byte
	if outSize > 0 {
		outPtr = &outBuf[0]
	}

	var bytesReturned uint32
	err := windows.DeviceIoControl(
		c.handle,
		code,
		inPtr,
		inLen,
		outPtr,
		outSize,
		&bytesReturned,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("DeviceIoControl 失败 [code=0x%X]: %w", code, err)
	}

	return outBuf[:bytesReturned], nil
}
