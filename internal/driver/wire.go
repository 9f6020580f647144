package driver

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// 与驱动约定的请求结构，按字段顺序紧凑编码(无填充)，小端序。

// MSRWriteInput 写 MSR 请求。
type MSRWriteInput struct {
	Index uint32
	Value uint64
}

// IOPortWriteInput 写 I/O 端口(字节)请求。
type IOPortWriteInput struct {
	Port  uint32
	Value uint8
}

// PCIReadInput 读 PCI 配置空间请求。
type PCIReadInput struct {
	PCIAddress uint32
	RegAddress uint32
}

// PCIWriteInput 写 PCI 配置空间请求。
type PCIWriteInput struct {
	PCIAddress uint32
	RegAddress uint32
	Value      uint32
}

// MemoryReadInput 读物理内存请求。
type MemoryReadInput struct {
	Address  uint64
	UnitSize uint32
	Count    uint32
}

// PCIAddress 组合 PCI 地址: bus 位于 15-8，device 位于 7-3，function 位于 2-0。
func PCIAddress(bus, device, function uint8) uint32 {
	return uint32(bus)<<8 | uint32(device&0x1F)<<3 | uint32(function&0x07)
}

// encode 按紧凑布局编码请求结构。v 为 nil 时返回空缓冲区。
func encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	return buf.Bytes(), nil
}

// sizeOf 返回紧凑布局下的字节数，v 为 nil 时为 0。
func sizeOf(v any) uint32 {
	if v == nil {
		return 0
	}
	n := binary.Size(v)
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// decode 将驱动写回的数据解码到 out。
func decode(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
