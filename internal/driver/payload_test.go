package driver

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

type sizeInfo struct {
	os.FileInfo
	size int64
}

func (s sizeInfo) Size() int64 { return s.size }

func TestNewImage(t *testing.T) {
	img := makeImage(t, driverContent)

	assert.Equal(t, int64(len(driverContent)), img.Size)
	sum := blake3.Sum256(driverContent)
	assert.Equal(t, hex.EncodeToString(sum[:]), img.Digest)

	assert.NoError(t, img.Verify(""))
	assert.NoError(t, img.Verify(img.Digest))
	assert.Error(t, img.Verify("00"))
}

func TestNewImageInvalid(t *testing.T) {
	_, err := NewImage("empty", []byte{0x1F})
	assert.Error(t, err)

	_, err = NewImage("garbage", []byte{0x1F, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	src := makeImage(t, driverContent)
	fsys := fstest.MapFS{"assets/ring0.sys.z": {Data: src.data}}

	img, err := LoadImage(fsys, "assets/ring0.sys.z")
	require.NoError(t, err)
	assert.Equal(t, src.Size, img.Size)
	assert.Equal(t, src.Digest, img.Digest)

	_, err = LoadImage(fsys, "assets/missing.sys.z")
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring0.sys")
	e := NewExtractor(makeImage(t, driverContent), time.Second, testLogger())

	require.True(t, e.Extract(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, driverContent, data)
}

func TestExtractWaitsForSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring0.sys")
	img := makeImage(t, driverContent)
	e := NewExtractor(img, time.Second, testLogger())

	polls := 0
	e.stat = func(name string) (os.FileInfo, error) {
		fi, err := os.Stat(name)
		if err != nil {
			return nil, err
		}
		polls++
		if polls < 5 {
			return sizeInfo{FileInfo: fi, size: int64(polls)}, nil
		}
		return fi, nil
	}

	require.NoError(t, e.ExtractErr(path))
	assert.Equal(t, 5, polls)
}

func TestExtractTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring0.sys")
	e := NewExtractor(makeImage(t, driverContent), 20*time.Millisecond, testLogger())
	e.stat = func(name string) (os.FileInfo, error) {
		fi, err := os.Stat(name)
		if err != nil {
			return nil, err
		}
		return sizeInfo{FileInfo: fi, size: 1}, nil
	}

	err := e.ExtractErr(path)
	require.Error(t, err)
	assert.Equal(t, ExtractionFailed, KindOf(err))
	assert.False(t, e.Extract(path))
}

func TestExtractNoImage(t *testing.T) {
	e := NewExtractor(nil, time.Second, testLogger())
	err := e.ExtractErr(filepath.Join(t.TempDir(), "ring0.sys"))
	assert.Equal(t, ExtractionFailed, KindOf(err))
}

func TestExtractUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "ring0.sys")
	e := NewExtractor(makeImage(t, driverContent), time.Second, testLogger())
	assert.False(t, e.Extract(path))
}
