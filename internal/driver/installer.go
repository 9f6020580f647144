package driver

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Installer 将驱动镜像注册为内核服务并启动，也负责停止和删除。
// 重试策略由 Bridge 负责，Install 本身只尝试一次。
type Installer struct {
	platform   Platform
	name       string
	devicePath string
	m          ServiceManager
	log        *logrus.Entry
}

// NewInstaller 创建服务安装器。devicePath 为启动后需要加固 ACL 的设备对象。
func NewInstaller(platform Platform, serviceName, devicePath string, log *logrus.Entry) *Installer {
	return &Installer{platform: platform, name: serviceName, devicePath: devicePath, log: log}
}

// Name 返回服务名。
func (i *Installer) Name() string { return i.name }

// Open 连接服务控制管理器，已连接时直接返回。
func (i *Installer) Open() bool {
	return i.open() == nil
}

func (i *Installer) open() error {
	if i.m != nil {
		return nil
	}
	m, err := i.platform.ConnectServiceManager()
	if err != nil {
		return err
	}
	i.m = m
	return nil
}

// Close 断开服务控制管理器连接。
func (i *Installer) Close() {
	if i.m == nil {
		return
	}
	if err := i.m.Disconnect(); err != nil {
		i.log.Debugf("断开服务管理器失败: %v", err)
	}
	i.m = nil
}

// Install 以按需启动、内核级、普通错误级别创建服务并启动。
// 返回 false 时 errorMessage 描述失败原因。
func (i *Installer) Install(path string) (bool, string) {
	if err := i.InstallErr(path); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// InstallErr 与 Install 相同，但返回带分类的错误。
// 同名服务已存在时返回 ServiceAlreadyExists，与其它创建失败区分。
func (i *Installer) InstallErr(path string) error {
	if err := i.open(); err != nil {
		return newError(ServiceCreateFailed, err, "连接服务管理器失败")
	}

	if err := i.m.CreateService(i.name, path); err != nil {
		if errors.Is(err, ErrServiceExists) {
			return newError(ServiceAlreadyExists, err, "创建服务 %s 失败", i.name)
		}
		return newError(ServiceCreateFailed, err, "创建服务 %s 失败", i.name)
	}
	i.log.Debugf("已创建服务 %s -> %s", i.name, path)

	if err := i.m.StartService(i.name); err != nil && !errors.Is(err, ErrServiceRunning) {
		return newError(ServiceStartFailed, err, "启动服务 %s 失败", i.name)
	}
	i.log.Debugf("已启动服务 %s", i.name)

	if err := i.platform.RestrictDeviceAccess(i.devicePath); err != nil {
		i.log.Warnf("设置设备 ACL 失败 [%s]: %v", i.devicePath, err)
	}
	return nil
}

// Delete 停止(忽略失败)并删除服务。服务不存在视为成功。
func (i *Installer) Delete() bool {
	if err := i.open(); err != nil {
		i.log.Debugf("删除服务 %s 失败: %v", i.name, err)
		return false
	}

	if err := i.m.StopService(i.name); err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return true
		}
		if !errors.Is(err, ErrServiceNotActive) {
			i.log.Debugf("停止服务 %s 失败: %v", i.name, err)
		}
	}

	if err := i.m.DeleteService(i.name); err != nil && !errors.Is(err, ErrServiceNotFound) {
		i.log.Warnf("删除服务 %s 失败: %v", i.name, err)
		return false
	}
	i.log.Debugf("已删除服务 %s", i.name)
	return true
}
