package driver

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeImage 按内嵌格式(1 字节标记 + DEFLATE)构造镜像。
func makeImage(t *testing.T, content []byte) *Image {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteByte(0x1F)
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	img, err := NewImage("test.sys.z", buf.Bytes())
	require.NoError(t, err)
	return img
}

func fixedPath(p string) Candidate {
	return func() (string, error) { return p, nil }
}

func newTestBridge(p *fakePlatform, img *Image, files []Candidate, opts ...Option) *Bridge {
	resolver := &Resolver{
		Files:  files,
		Names:  []Candidate{func() (string, error) { return "te.st", nil }},
		Prefix: "R0",
		Probe:  probeWritable,
	}
	log := testLogger()
	extractor := NewExtractor(img, 100*time.Millisecond, log)
	opts = append([]Option{WithLogger(log), WithSleep(func(time.Duration) {})}, opts...)
	return NewBridge(p, "WinRing0_1_2_0", resolver, extractor, opts...)
}

var driverContent = bytes.Repeat([]byte("MZ ring0 driver image "), 64)

func TestBridgeInstallFirstAttempt(t *testing.T) {
	p := newFakePlatform()
	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)})

	b.Open()

	require.True(t, b.IsOpen())
	assert.Empty(t, b.Status())
	assert.Equal(t, "R0test", b.ServiceName())
	assert.Equal(t, path, b.FilePath())
	assert.Equal(t, path, p.services["R0test"])
	assert.True(t, p.running["R0test"])
	assert.Equal(t, 1, p.count("create"))
	assert.Equal(t, 1, p.count("start"))
	assert.Equal(t, 1, p.count("restrict"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, driverContent, data)
}

func TestBridgeOpenIdempotent(t *testing.T) {
	p := newFakePlatform()
	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)})

	b.Open()
	require.True(t, b.IsOpen())
	calls := len(p.calls)

	b.Open()
	assert.True(t, b.IsOpen())
	assert.Equal(t, calls, len(p.calls))
	assert.Equal(t, 1, p.count("create"))
}

func TestBridgeCloseNeverOpened(t *testing.T) {
	p := newFakePlatform()
	b := newTestBridge(p, nil, nil)

	b.Close()

	assert.False(t, b.IsOpen())
	assert.Empty(t, b.Status())
	assert.Empty(t, p.calls)
}

func TestBridgeReconnect(t *testing.T) {
	p := newFakePlatform()
	p.services["R0test"] = `C:\old\ring0.sys`
	p.running["R0test"] = true

	dir := t.TempDir()
	path := filepath.Join(dir, "ring0.sys")
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)})

	b.Open()

	require.True(t, b.IsOpen())
	assert.Empty(t, b.Status())
	assert.Empty(t, b.FilePath())
	assert.Zero(t, p.count("create"))
	assert.Zero(t, p.count("connect"))
	assert.NoFileExists(t, path)
}

func TestBridgeBothInstallsFail(t *testing.T) {
	p := newFakePlatform()
	p.createErrs = []error{errors.New("access denied"), errors.New("access denied again")}

	path := filepath.Join(t.TempDir(), "ring0.sys")
	var slept []time.Duration
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)},
		WithSleep(func(d time.Duration) { slept = append(slept, d) }))

	b.Open()

	assert.False(t, b.IsOpen())
	entries := b.StatusEntries()
	require.Len(t, entries, 3)
	assert.Contains(t, entries[0], path)
	assert.Contains(t, entries[1], "access denied")
	assert.Contains(t, entries[2], "access denied again")
	assert.NotEqual(t, entries[1], entries[2])
	assert.Equal(t, []time.Duration{DefaultRetryDelay}, slept)
	assert.Equal(t, 2, p.count("create"))
	assert.NoFileExists(t, path)
	assert.Empty(t, b.FilePath())
	assert.Empty(t, p.services)
}

func TestBridgeStaleServiceRetry(t *testing.T) {
	p := newFakePlatform()
	// 之前的会话留下了未运行的服务
	p.services["R0test"] = `C:\old\ring0.sys`

	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)}, WithRetryDelay(time.Millisecond))

	b.Open()

	require.True(t, b.IsOpen())
	assert.Empty(t, b.Status())
	assert.Equal(t, path, p.services["R0test"])
	assert.Equal(t, 2, p.count("create"))
	assert.Equal(t, 1, p.count("delete"))
}

func TestBridgeFirstInstallErrorKinds(t *testing.T) {
	p := newFakePlatform()
	p.services["R0test"] = `C:\old\ring0.sys`

	installer := NewInstaller(p, "R0test", `\\.\WinRing0_1_2_0`, testLogger())
	err := installer.InstallErr(`C:\new\ring0.sys`)
	assert.Equal(t, ServiceAlreadyExists, KindOf(err))
	assert.ErrorIs(t, err, &Error{Kind: ServiceAlreadyExists})
	assert.ErrorIs(t, err, ErrServiceExists)
}

func TestBridgeCloseDeletesServiceWhenLastUser(t *testing.T) {
	for _, tc := range []struct {
		name     string
		refCount uint32
		deleted  bool
	}{
		{"last user", 1, true},
		{"no count", 0, true},
		{"shared", 2, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakePlatform()
			p.device.responses[RequestGetRefCount.Code(DefaultDeviceType)] = u32(tc.refCount)

			path := filepath.Join(t.TempDir(), "ring0.sys")
			b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)})
			b.Open()
			require.True(t, b.IsOpen())
			require.FileExists(t, path)

			b.Close()

			assert.False(t, b.IsOpen())
			assert.True(t, p.device.closed)
			_, registered := p.services["R0test"]
			assert.Equal(t, !tc.deleted, registered)
			assert.NoFileExists(t, path)

			// 再次关闭不产生任何调用
			calls := len(p.calls)
			b.Close()
			assert.Equal(t, calls, len(p.calls))
		})
	}
}

func TestBridgeCloseRefCountFailure(t *testing.T) {
	p := newFakePlatform()
	p.services["R0test"] = `C:\ring0.sys`
	p.running["R0test"] = true
	p.device.errs[RequestGetRefCount.Code(DefaultDeviceType)] = errors.New("not supported")

	b := newTestBridge(p, nil, nil)
	b.Open()
	require.True(t, b.IsOpen())

	b.Close()

	assert.Empty(t, p.services)
}

func TestBridgePathResolutionFailed(t *testing.T) {
	p := newFakePlatform()
	failing := func() (string, error) { return "", errors.New("denied") }
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{failing})

	b.Open()

	assert.False(t, b.IsOpen())
	require.Len(t, b.StatusEntries(), 1)
	assert.Zero(t, p.count("create"))
}

func TestBridgeExtractionFailed(t *testing.T) {
	p := newFakePlatform()
	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, nil, []Candidate{fixedPath(path)})

	b.Open()

	assert.False(t, b.IsOpen())
	require.Len(t, b.StatusEntries(), 1)
	assert.Zero(t, p.count("create"))
	assert.NoFileExists(t, path)
}

func TestBridgeOpenAfterInstallFails(t *testing.T) {
	p := newFakePlatform()
	// 重连一次，安装后再一次
	p.openFails = 2

	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)})

	b.Open()

	assert.False(t, b.IsOpen())
	require.Len(t, b.StatusEntries(), 1)
	assert.Contains(t, b.Status(), "安装后打开设备失败")
	assert.Empty(t, p.services)
	assert.NoFileExists(t, path)
}

func TestBridgeACLFailureNotFatal(t *testing.T) {
	p := newFakePlatform()
	p.restrictErr = errors.New("SetNamedSecurityInfo failed")

	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, makeImage(t, driverContent), []Candidate{fixedPath(path)})

	b.Open()

	assert.True(t, b.IsOpen())
	assert.Empty(t, b.Status())
}

func TestBridgeStatusResetOnNextOpen(t *testing.T) {
	p := newFakePlatform()
	path := filepath.Join(t.TempDir(), "ring0.sys")
	b := newTestBridge(p, nil, []Candidate{fixedPath(path)})

	b.Open()
	require.NotEmpty(t, b.Status())

	p.services["R0test"] = path
	p.running["R0test"] = true
	b.Open()

	assert.True(t, b.IsOpen())
	assert.Empty(t, b.Status())
}
