package driver

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRetryDelay 两次安装尝试之间的固定等待。
const DefaultRetryDelay = 2 * time.Second

// Bridge 编排路径解析、解压、服务安装和设备通道，提供幂等的 Open/Close 生命周期。
//
// 状态机:
//
//	Closed --重连已注册服务--> Opened
//	Closed --重连失败--> 解析路径 --> 解压 --> 安装(第一次)
//	  第一次失败 --> 删除服务, 等待 --> 安装(第二次)
//	  第二次失败 --> 永久失败(Closed, 状态日志已记录)
//	  任一次成功 --> 打开设备 --> Opened
//	Opened --Close--> 读取引用计数; 关闭句柄; 计数<=1 时删除服务; 删除解压文件 --> Closed
//
// Bridge 不是并发安全的，多个 goroutine 使用时需外部同步。
type Bridge struct {
	platform   Platform
	deviceID   string
	deviceType uint16
	resolver   *Resolver
	extractor  *Extractor
	channel    *Channel
	installer  *Installer
	retryDelay time.Duration
	sleep      func(time.Duration)
	log        *logrus.Entry

	serviceName string
	filePath    string
	status      []string
}

// Option 配置 Bridge。
type Option func(*Bridge)

// WithDeviceType 覆盖 IOCTL 设备类型。
func WithDeviceType(deviceType uint16) Option {
	return func(b *Bridge) { b.deviceType = deviceType }
}

// WithRetryDelay 覆盖两次安装之间的等待时长。
func WithRetryDelay(d time.Duration) Option {
	return func(b *Bridge) { b.retryDelay = d }
}

// WithSleep 替换等待函数。
func WithSleep(sleep func(time.Duration)) Option {
	return func(b *Bridge) { b.sleep = sleep }
}

// WithLogger 设置日志。
func WithLogger(log *logrus.Entry) Option {
	return func(b *Bridge) { b.log = log }
}

// NewBridge 创建处于 Closed 状态的桥接器。
func NewBridge(platform Platform, deviceID string, resolver *Resolver, extractor *Extractor, opts ...Option) *Bridge {
	b := &Bridge{
		platform:   platform,
		deviceID:   deviceID,
		deviceType: DefaultDeviceType,
		resolver:   resolver,
		extractor:  extractor,
		retryDelay: DefaultRetryDelay,
		sleep:      time.Sleep,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("component", "bridge")
	b.channel = NewChannel(platform, b.deviceType, b.log)
	return b
}

// IsOpen 报告设备句柄是否已打开。
func (b *Bridge) IsOpen() bool {
	return b.channel.IsOpen()
}

// Status 返回最近一次 Open 的诊断日志，没有失败时为空。
func (b *Bridge) Status() string {
	return strings.Join(b.status, "\n")
}

// StatusEntries 返回诊断日志条目。
func (b *Bridge) StatusEntries() []string {
	return append([]string(nil), b.status...)
}

// ServiceName 返回最近一次 Open 解析出的服务名。
func (b *Bridge) ServiceName() string {
	return b.serviceName
}

// FilePath 返回本进程解压出的驱动文件路径，未解压时为空。
func (b *Bridge) FilePath() string {
	return b.filePath
}

// Open 打开桥接器。已打开时不做任何事，失败时保持 Closed 并记录诊断日志。
func (b *Bridge) Open() {
	if b.channel.IsOpen() {
		return
	}
	b.status = nil

	b.serviceName = b.resolver.ResolveServiceName()
	b.installer = NewInstaller(b.platform, b.serviceName, DevicePath(b.deviceID), b.log)

	// 重连: 服务可能已由之前的会话注册并运行
	if b.channel.Open(b.serviceName, b.deviceID) {
		b.log.Infof("已连接已运行的驱动服务 %s", b.serviceName)
		return
	}

	path, ok := b.resolver.ResolveFilePath()
	if !ok {
		b.fail(newError(PathResolutionFailed, nil, "没有可写的驱动文件路径"))
		b.installer.Close()
		return
	}

	if err := b.extractor.ExtractErr(path); err != nil {
		b.fail(err)
		b.removeFile(path)
		b.installer.Close()
		return
	}
	b.filePath = path

	if !b.installWithRetry(path) {
		b.cleanup()
		return
	}

	if err := b.channel.OpenErr(b.serviceName, b.deviceID); err != nil {
		b.fail(fmt.Errorf("安装后打开设备失败: %w", err))
		b.cleanup()
		return
	}
	b.log.Infof("驱动服务 %s 已安装并打开 (%s)", b.serviceName, path)
}

// installWithRetry 最多安装两次，两次失败的原因分别记录。
func (b *Bridge) installWithRetry(path string) bool {
	first := b.installer.InstallErr(path)
	if first == nil {
		return true
	}
	b.log.Warnf("第一次安装失败: %v", first)

	b.installer.Delete()
	b.sleep(b.retryDelay)

	second := b.installer.InstallErr(path)
	if second == nil {
		return true
	}
	b.log.Warnf("第二次安装失败: %v", second)

	b.note("驱动已解压到 %s", path)
	b.note("第一次安装失败: %v", first)
	b.note("第二次安装失败: %v", second)
	return false
}

// Close 关闭桥接器。未打开时不做任何事。
func (b *Bridge) Close() {
	if !b.channel.IsOpen() {
		return
	}

	// 查询失败时按 0 处理，视为最后一个使用者
	var refCount uint32
	if err := b.channel.SendErr(RequestGetRefCount, nil, &refCount); err != nil {
		b.log.Debugf("读取引用计数失败: %v", err)
		refCount = 0
	}
	b.channel.Close()

	if refCount <= 1 {
		b.installer.Delete()
	} else {
		b.log.Debugf("驱动仍有 %d 个引用，保留服务 %s", refCount, b.serviceName)
	}

	if b.filePath != "" {
		b.removeFile(b.filePath)
		b.filePath = ""
	}
	b.installer.Close()
	b.log.Info("驱动桥已关闭")
}

// cleanup 永久失败后删除部分注册和解压文件。
func (b *Bridge) cleanup() {
	b.channel.Close()
	b.installer.Delete()
	if b.filePath != "" {
		b.removeFile(b.filePath)
		b.filePath = ""
	}
	b.installer.Close()
}

func (b *Bridge) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		b.log.Debugf("删除驱动文件 %s 失败: %v", path, err)
	}
}

func (b *Bridge) fail(err error) {
	b.log.Warn(err)
	b.status = append(b.status, err.Error())
}

func (b *Bridge) note(format string, args ...any) {
	b.status = append(b.status, fmt.Sprintf(format, args...))
}

// channelFor 供寄存器操作使用，未打开时返回 nil。
func (b *Bridge) channelFor() *Channel {
	if b == nil || !b.channel.IsOpen() {
		return nil
	}
	return b.channel
}
