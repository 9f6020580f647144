package driver

import (
	"encoding/binary"
)

// Registers 基于固定控制码的寄存器操作。
// 桥接器未打开或请求失败时，所有操作退化为中性值(0/false)，不返回错误。
type Registers struct {
	bridge *Bridge
}

// NewRegisters 在桥接器上创建寄存器操作。
func NewRegisters(bridge *Bridge) *Registers {
	return &Registers{bridge: bridge}
}

func (r *Registers) send(req Request, in, out any) bool {
	ch := r.bridge.channelFor()
	if ch == nil {
		return false
	}
	if err := ch.SendErr(req, in, out); err != nil {
		r.bridge.log.Debug(err)
		return false
	}
	return true
}

func (r *Registers) reject(req Request, regAddress uint32) {
	if r.bridge == nil {
		return
	}
	r.bridge.log.Debug(newError(ControlRequestRejected, nil, "%s: 寄存器地址 0x%X 未按 4 字节对齐", req.Kind, regAddress))
}

// DriverVersion 返回驱动版本号。
func (r *Registers) DriverVersion() (bool, uint32) {
	var version uint32
	if !r.send(RequestGetVersion, nil, &version) {
		return false, 0
	}
	return true, version
}

// RefCount 返回驱动当前打开的句柄数。
func (r *Registers) RefCount() (bool, uint32) {
	var count uint32
	if !r.send(RequestGetRefCount, nil, &count) {
		return false, 0
	}
	return true, count
}

// ReadMSR 读取 MSR，返回低 32 位 eax 与高 32 位 edx。
func (r *Registers) ReadMSR(index uint32) (ok bool, eax, edx uint32) {
	var value uint64
	if !r.send(RequestReadMSR, index, &value) {
		return false, 0, 0
	}
	return true, uint32(value), uint32(value >> 32)
}

// WriteMSR 将 edx:eax 写入 MSR。
func (r *Registers) WriteMSR(index, eax, edx uint32) bool {
	in := MSRWriteInput{Index: index, Value: uint64(edx)<<32 | uint64(eax)}
	return r.send(RequestWriteMSR, in, nil)
}

// ReadIOPort 读取 I/O 端口字节，失败时返回 0。
func (r *Registers) ReadIOPort(port uint32) uint8 {
	var value uint32
	if !r.send(RequestReadIOPort, port, &value) {
		return 0
	}
	return uint8(value & 0xFF)
}

// WriteIOPort 写入 I/O 端口字节。
func (r *Registers) WriteIOPort(port uint32, value uint8) {
	r.send(RequestWriteIOPort, IOPortWriteInput{Port: port, Value: value}, nil)
}

// ReadPCIConfig 读取 PCI 配置空间双字。regAddress 必须 4 字节对齐，否则不发请求直接失败。
func (r *Registers) ReadPCIConfig(pciAddress, regAddress uint32) (bool, uint32) {
	if regAddress&3 != 0 {
		r.reject(RequestReadPCIConfig, regAddress)
		return false, 0
	}
	var value uint32
	if !r.send(RequestReadPCIConfig, PCIReadInput{PCIAddress: pciAddress, RegAddress: regAddress}, &value) {
		return false, 0
	}
	return true, value
}

// WritePCIConfig 写入 PCI 配置空间双字。regAddress 必须 4 字节对齐。
func (r *Registers) WritePCIConfig(pciAddress, regAddress, value uint32) bool {
	if regAddress&3 != 0 {
		r.reject(RequestWritePCIConfig, regAddress)
		return false
	}
	in := PCIWriteInput{PCIAddress: pciAddress, RegAddress: regAddress, Value: value}
	return r.send(RequestWritePCIConfig, in, nil)
}

// ReadMemory 读取一个定长单元到 buffer。单元大小由 T 的紧凑布局决定。
func ReadMemory[T any](r *Registers, address uint64, buffer *T) bool {
	size := binary.Size(buffer)
	if size <= 0 {
		return false
	}
	in := MemoryReadInput{Address: address, UnitSize: uint32(size), Count: 1}
	return r.send(RequestReadMemory, in, buffer)
}

// ReadMemorySlice 读取 len(buffer) 个定长单元。
func ReadMemorySlice[T any](r *Registers, address uint64, buffer []T) bool {
	if len(buffer) == 0 {
		return false
	}
	var unit T
	size := binary.Size(unit)
	if size <= 0 {
		return false
	}
	in := MemoryReadInput{Address: address, UnitSize: uint32(size), Count: uint32(len(buffer))}
	return r.send(RequestReadMemory, in, buffer)
}

// ReadMemoryRaw 按给定单元大小和数量读取原始字节。
func (r *Registers) ReadMemoryRaw(address uint64, unitSize, count uint32) (bool, []byte) {
	total := uint64(unitSize) * uint64(count)
	if total == 0 || total > maxMemoryRead {
		return false, nil
	}
	buf := make([]byte, total)
	in := MemoryReadInput{Address: address, UnitSize: unitSize, Count: count}
	if !r.send(RequestReadMemory, in, buf) {
		return false, nil
	}
	return true, buf
}

// maxMemoryRead 单次读取上限。
const maxMemoryRead = 1 << 20
