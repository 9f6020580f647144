package service

import (
	"fmt"
	"sync"
)

// Bridge 驱动桥状态。
type Bridge interface {
	IsOpen() bool
	Status() string
	ServiceName() string
}

// RegisterOps 寄存器操作，由 *driver.Registers 实现。
type RegisterOps interface {
	DriverVersion() (bool, uint32)
	RefCount() (bool, uint32)
	ReadMSR(index uint32) (bool, uint32, uint32)
	WriteMSR(index, eax, edx uint32) bool
	ReadIOPort(port uint32) uint8
	WriteIOPort(port uint32, value uint8)
	ReadPCIConfig(pciAddress, regAddress uint32) (bool, uint32)
	WritePCIConfig(pciAddress, regAddress, value uint32) bool
	ReadMemoryRaw(address uint64, unitSize, count uint32) (bool, []byte)
}

// Ring0Service 暴露给协作进程的 JSON-RPC 服务。
// 只做参数转发，不解释寄存器取值。驱动桥不是并发安全的，所有调用串行执行。
type Ring0Service struct {
	mu     sync.Mutex
	Bridge Bridge
	Regs   RegisterOps
}

func (t *Ring0Service) ready() error {
	if t.Bridge == nil || t.Regs == nil || !t.Bridge.IsOpen() {
		return fmt.Errorf("驱动未加载")
	}
	return nil
}

// PingArgs 连通性测试请求参数。
type PingArgs struct{}

// PingReply 连通性测试响应。
type PingReply struct {
	Status string `json:"status"`
}

// Ping 连通性测试，前端可用于检测后端服务是否存活。
func (t *Ring0Service) Ping(_ *PingArgs, reply *PingReply) error {
	reply.Status = "ok"
	return nil
}

// StatusArgs 驱动状态请求参数。
type StatusArgs struct{}

// StatusReply 驱动状态响应。
type StatusReply struct {
	Open          bool   `json:"open"`
	ServiceName   string `json:"service_name"`
	Diagnostics   string `json:"diagnostics"`
	DriverVersion uint32 `json:"driver_version"`
	RefCount      uint32 `json:"ref_count"`
}

// Status 返回驱动桥状态与诊断日志。
func (t *Ring0Service) Status(_ *StatusArgs, reply *StatusReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Bridge == nil {
		return fmt.Errorf("驱动未加载")
	}
	reply.Open = t.Bridge.IsOpen()
	reply.ServiceName = t.Bridge.ServiceName()
	reply.Diagnostics = t.Bridge.Status()
	if reply.Open && t.Regs != nil {
		_, reply.DriverVersion = t.Regs.DriverVersion()
		_, reply.RefCount = t.Regs.RefCount()
	}
	return nil
}

// MSRArgs MSR 请求参数。
type MSRArgs struct {
	Index uint32 `json:"index"`
	EAX   uint32 `json:"eax"`
	EDX   uint32 `json:"edx"`
}

// MSRReply MSR 响应。
type MSRReply struct {
	Success bool   `json:"success"`
	EAX     uint32 `json:"eax"`
	EDX     uint32 `json:"edx"`
}

// ReadMSR 读取 MSR。
func (t *Ring0Service) ReadMSR(args *MSRArgs, reply *MSRReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	reply.Success, reply.EAX, reply.EDX = t.Regs.ReadMSR(args.Index)
	return nil
}

// WriteMSR 写入 MSR。
func (t *Ring0Service) WriteMSR(args *MSRArgs, reply *MSRReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	reply.Success = t.Regs.WriteMSR(args.Index, args.EAX, args.EDX)
	return nil
}

// IOPortArgs I/O 端口请求参数。
type IOPortArgs struct {
	Port  uint32 `json:"port"`
	Value uint8  `json:"value"`
}

// IOPortReply I/O 端口响应。
type IOPortReply struct {
	Value uint8 `json:"value"`
}

// ReadIOPort 读取 I/O 端口字节。
func (t *Ring0Service) ReadIOPort(args *IOPortArgs, reply *IOPortReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	reply.Value = t.Regs.ReadIOPort(args.Port)
	return nil
}

// WriteIOPort 写入 I/O 端口字节。
func (t *Ring0Service) WriteIOPort(args *IOPortArgs, reply *IOPortReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	t.Regs.WriteIOPort(args.Port, args.Value)
	reply.Value = args.Value
	return nil
}

// PCIConfigArgs PCI 配置空间请求参数。
type PCIConfigArgs struct {
	PCIAddress uint32 `json:"pci_address"`
	RegAddress uint32 `json:"reg_address"`
	Value      uint32 `json:"value"`
}

// PCIConfigReply PCI 配置空间响应。
type PCIConfigReply struct {
	Success bool   `json:"success"`
	Value   uint32 `json:"value"`
}

// ReadPCIConfig 读取 PCI 配置空间双字。
func (t *Ring0Service) ReadPCIConfig(args *PCIConfigArgs, reply *PCIConfigReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	reply.Success, reply.Value = t.Regs.ReadPCIConfig(args.PCIAddress, args.RegAddress)
	return nil
}

// WritePCIConfig 写入 PCI 配置空间双字。
func (t *Ring0Service) WritePCIConfig(args *PCIConfigArgs, reply *PCIConfigReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	reply.Success = t.Regs.WritePCIConfig(args.PCIAddress, args.RegAddress, args.Value)
	return nil
}

// MemoryArgs 物理内存读取请求参数。
type MemoryArgs struct {
	Address  uint64 `json:"address"`
	UnitSize uint32 `json:"unit_size"`
	Count    uint32 `json:"count"`
}

// MemoryReply 物理内存读取响应。Data 在 JSON 中为 base64。
type MemoryReply struct {
	Success bool   `json:"success"`
	Data    []byte `json:"data"`
}

// ReadMemory 读取物理内存。
func (t *Ring0Service) ReadMemory(args *MemoryArgs, reply *MemoryReply) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	reply.Success, reply.Data = t.Regs.ReadMemoryRaw(args.Address, args.UnitSize, args.Count)
	return nil
}
