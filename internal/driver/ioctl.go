package driver

// IOCTL 控制码构造。
// Windows IOCTL 控制码格式: ((DeviceType) << 16) | ((Access) << 14) | ((Function) << 2) | (Method)
//
// 参考: https://learn.microsoft.com/en-us/windows-hardware/drivers/kernel/defining-i-o-control-codes

// Method 数据传输方式。
type Method uint32

const (
	MethodBuffered  Method = 0
	MethodInDirect  Method = 1
	MethodOutDirect Method = 2
	MethodNeither   Method = 3
)

// Access 访问限定。
type Access uint32

const (
	AccessAny   Access = 0
	AccessRead  Access = 1
	AccessWrite Access = 2
)

// DefaultDeviceType 驱动的设备类型 (40000)。
const DefaultDeviceType uint16 = 40000

// CTL_CODE 按 Windows 约定构造 IOCTL 控制码。
func CTL_CODE(deviceType uint16, function uint32, method Method, access Access) uint32 {
	return (uint32(deviceType) << 16) | (uint32(access) << 14) | (function << 2) | uint32(method)
}

// RequestKind 控制请求类型。
type RequestKind int

const (
	KindGetVersion RequestKind = iota
	KindGetRefCount
	KindReadMSR
	KindWriteMSR
	KindReadIOPort
	KindWriteIOPort
	KindReadPCIConfig
	KindWritePCIConfig
	KindReadMemory
)

func (k RequestKind) String() string {
	switch k {
	case KindGetVersion:
		return "GetVersion"
	case KindGetRefCount:
		return "GetRefCount"
	case KindReadMSR:
		return "ReadMSR"
	case KindWriteMSR:
		return "WriteMSR"
	case KindReadIOPort:
		return "ReadIOPort"
	case KindWriteIOPort:
		return "WriteIOPort"
	case KindReadPCIConfig:
		return "ReadPCIConfig"
	case KindWritePCIConfig:
		return "WritePCIConfig"
	case KindReadMemory:
		return "ReadMemory"
	default:
		return "Unknown"
	}
}

// Request 描述一种控制请求: 功能号与访问限定。
type Request struct {
	Kind     RequestKind
	Function uint32
	Access   Access
}

// Code 返回该请求在指定设备类型下的控制码。
func (r Request) Code(deviceType uint16) uint32 {
	return CTL_CODE(deviceType, r.Function, MethodBuffered, r.Access)
}

// 控制请求表，功能号与驱动约定一致
var (
	RequestGetVersion     = Request{KindGetVersion, 0x800, AccessAny}
	RequestGetRefCount    = Request{KindGetRefCount, 0x801, AccessAny}
	RequestReadMSR        = Request{KindReadMSR, 0x821, AccessAny}
	RequestWriteMSR       = Request{KindWriteMSR, 0x822, AccessAny}
	RequestReadIOPort     = Request{KindReadIOPort, 0x833, AccessRead}
	RequestWriteIOPort    = Request{KindWriteIOPort, 0x836, AccessWrite}
	RequestReadPCIConfig  = Request{KindReadPCIConfig, 0x851, AccessRead}
	RequestWritePCIConfig = Request{KindWritePCIConfig, 0x852, AccessWrite}
	RequestReadMemory     = Request{KindReadMemory, 0x841, AccessRead}
)
