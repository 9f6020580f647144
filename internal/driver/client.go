package driver

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Channel 封装与内核驱动设备对象的通信通道。
// 通过 Platform.OpenDevice 打开独占句柄，通过 IoControl 收发定长结构。
// 每个进程只应持有一个 Channel。
type Channel struct {
	mu         sync.Mutex
	platform   Platform
	deviceType uint16
	device     Device
	path       string
	log        *logrus.Entry
}

// NewChannel 创建未打开的通道。
func NewChannel(platform Platform, deviceType uint16, log *logrus.Entry) *Channel {
	return &Channel{platform: platform, deviceType: deviceType, log: log}
}

// Open 打开驱动设备。serviceName 仅用于日志，设备路径由 deviceID 决定。
func (c *Channel) Open(serviceName, deviceID string) bool {
	return c.OpenErr(serviceName, deviceID) == nil
}

// OpenErr 与 Open 相同，但返回失败原因。
func (c *Channel) OpenErr(serviceName, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil
	}

	path := DevicePath(deviceID)
	dev, err := c.platform.OpenDevice(path)
	if err != nil || dev == nil {
		c.closeLocked()
		if err == nil {
			err = ErrNotOpen
		}
		c.log.WithField("service", serviceName).Debugf("打开设备失败 [%s]: %v", path, err)
		return newError(HandleOpenFailed, err, "打开设备失败 [%s]", path)
	}

	c.device = dev
	c.path = path
	c.log.WithField("service", serviceName).Debugf("已打开设备 %s", path)
	return nil
}

// IsOpen 报告句柄是否有效。
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil
}

// Close 关闭设备句柄，可重复调用。
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Channel) closeLocked() {
	if c.device == nil {
		return
	}
	if err := c.device.Close(); err != nil {
		c.log.Debugf("关闭设备句柄失败 [%s]: %v", c.path, err)
	}
	c.device = nil
	c.path = ""
}

// Send 发送一次同步控制请求。
//   - in:  定长输入结构(可为 nil)，按其紧凑大小发送
//   - out: 定长输出结构指针或定长元素切片(可为 nil)，按其紧凑大小接收
//
// 句柄未打开或驱动报告失败时返回 false，此时 out 内容无保证。
func (c *Channel) Send(req Request, in, out any) bool {
	return c.SendErr(req, in, out) == nil
}

// SendErr 与 Send 相同，但返回失败原因。
func (c *Channel) SendErr(req Request, in, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return ErrNotOpen
	}

	inBuf, err := encode(in)
	if err != nil {
		return newError(ControlRequestRejected, err, "%s", req.Kind)
	}

	outSize := sizeOf(out)
	code := req.Code(c.deviceType)
	data, err := c.device.IoControl(code, inBuf, outSize)
	if err != nil {
		return newError(ControlRequestFailed, err, "%s [code=0x%X]", req.Kind, code)
	}
	// 驱动可能只写回低位字节(如读端口字节)，不足部分补零
	resp := make([]byte, outSize)
	copy(resp, data)
	if err := decode(resp, out); err != nil {
		return newError(ControlRequestFailed, err, "%s [code=0x%X]", req.Kind, code)
	}
	return nil
}
