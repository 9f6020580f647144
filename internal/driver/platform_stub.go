//go:build !windows

package driver

// NativePlatform 在非 Windows 平台上返回始终失败的实现，桥接器保持关闭状态。
func NativePlatform() Platform {
	return stubPlatform{}
}

type stubPlatform struct{}

func (stubPlatform) ConnectServiceManager() (ServiceManager, error) {
	return nil, ErrUnsupported
}

func (stubPlatform) OpenDevice(_ string) (Device, error) {
	return nil, ErrUnsupported
}

func (stubPlatform) RestrictDeviceAccess(_ string) error {
	return ErrUnsupported
}
