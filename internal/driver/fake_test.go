package driver

import (
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type ioRequest struct {
	code uint32
	in   []byte
	size uint32
}

// fakeDevice 记录所有控制请求，按控制码返回预设数据。
type fakeDevice struct {
	mu        sync.Mutex
	requests  []ioRequest
	responses map[uint32][]byte
	errs      map[uint32]error
	closed    bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{responses: map[uint32][]byte{}, errs: map[uint32]error{}}
}

func (d *fakeDevice) IoControl(code uint32, inBuf []byte, outSize uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, ioRequest{code: code, in: append([]byte(nil), inBuf...), size: outSize})
	if err := d.errs[code]; err != nil {
		return nil, err
	}
	resp := d.responses[code]
	if uint32(len(resp)) > outSize {
		resp = resp[:outSize]
	}
	return resp, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// fakePlatform 内存中的服务管理器与设备。
// 服务处于 running 状态时 OpenDevice 成功。
type fakePlatform struct {
	device *fakeDevice

	services map[string]string
	running  map[string]bool

	connectErr  error
	createErrs  []error
	startErr    error
	restrictErr error
	openFails   int

	calls []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		device:   newFakeDevice(),
		services: map[string]string{},
		running:  map[string]bool{},
	}
}

func (p *fakePlatform) anyRunning() bool {
	for _, r := range p.running {
		if r {
			return true
		}
	}
	return false
}

func (p *fakePlatform) count(call string) int {
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakePlatform) ConnectServiceManager() (ServiceManager, error) {
	p.calls = append(p.calls, "connect")
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	return &fakeManager{p: p}, nil
}

func (p *fakePlatform) OpenDevice(devicePath string) (Device, error) {
	p.calls = append(p.calls, "open")
	if p.openFails > 0 {
		p.openFails--
		return nil, errors.New("access denied")
	}
	if !p.anyRunning() {
		return nil, errors.New("file not found")
	}
	p.device.closed = false
	return p.device, nil
}

func (p *fakePlatform) RestrictDeviceAccess(devicePath string) error {
	p.calls = append(p.calls, "restrict")
	return p.restrictErr
}

type fakeManager struct {
	p *fakePlatform
}

func (m *fakeManager) CreateService(name, binaryPath string) error {
	m.p.calls = append(m.p.calls, "create")
	if len(m.p.createErrs) > 0 {
		err := m.p.createErrs[0]
		m.p.createErrs = m.p.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := m.p.services[name]; ok {
		return ErrServiceExists
	}
	m.p.services[name] = binaryPath
	return nil
}

func (m *fakeManager) StartService(name string) error {
	m.p.calls = append(m.p.calls, "start")
	if m.p.startErr != nil {
		return m.p.startErr
	}
	if _, ok := m.p.services[name]; !ok {
		return ErrServiceNotFound
	}
	if m.p.running[name] {
		return ErrServiceRunning
	}
	m.p.running[name] = true
	return nil
}

func (m *fakeManager) StopService(name string) error {
	m.p.calls = append(m.p.calls, "stop")
	if _, ok := m.p.services[name]; !ok {
		return ErrServiceNotFound
	}
	if !m.p.running[name] {
		return ErrServiceNotActive
	}
	m.p.running[name] = false
	return nil
}

func (m *fakeManager) DeleteService(name string) error {
	m.p.calls = append(m.p.calls, "delete")
	if _, ok := m.p.services[name]; !ok {
		return ErrServiceNotFound
	}
	delete(m.p.services, name)
	delete(m.p.running, name)
	return nil
}

func (m *fakeManager) Disconnect() error {
	m.p.calls = append(m.p.calls, "disconnect")
	return nil
}
