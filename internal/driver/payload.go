package driver

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Image 内嵌的压缩驱动镜像。
// 格式: 1 字节标记 + DEFLATE 数据流，标记字节在解压前跳过。
type Image struct {
	Name string
	// Size 解压后的长度。
	Size int64
	// Digest 解压后内容的 blake3 摘要(十六进制)。
	Digest string

	data []byte
}

// NewImage 解析压缩镜像，一次性计算解压长度和摘要。
func NewImage(name string, data []byte) (*Image, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("驱动镜像 %s 过小 (%d 字节)", name, len(data))
	}
	img := &Image{Name: name, data: data}

	rc := img.open()
	defer rc.Close()

	h := blake3.New()
	n, err := io.Copy(h, rc)
	if err != nil {
		return nil, fmt.Errorf("解压驱动镜像 %s 失败: %w", name, err)
	}
	img.Size = n
	img.Digest = hex.EncodeToString(h.Sum(nil))
	return img, nil
}

// LoadImage 从文件系统(通常为 embed.FS)读取压缩镜像。
func LoadImage(fsys fs.FS, name string) (*Image, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("读取驱动镜像失败: %w", err)
	}
	return NewImage(name, data)
}

// Verify 校验摘要，digest 为空时跳过。
func (img *Image) Verify(digest string) error {
	if digest == "" {
		return nil
	}
	if !strings.EqualFold(digest, img.Digest) {
		return fmt.Errorf("驱动镜像 %s 摘要不匹配: %s != %s", img.Name, img.Digest, digest)
	}
	return nil
}

func (img *Image) open() io.ReadCloser {
	return flate.NewReader(bytes.NewReader(img.data[1:]))
}

// Extractor 将镜像解压到目标路径，并等待文件长度可见。
type Extractor struct {
	image *Image
	// Timeout 校验轮询的时间上限。
	Timeout time.Duration
	log     *logrus.Entry

	stat  func(string) (os.FileInfo, error)
	yield func()
	now   func() time.Time
}

// NewExtractor 创建解压器。image 为 nil 时 Extract 总是失败。
func NewExtractor(image *Image, timeout time.Duration, log *logrus.Entry) *Extractor {
	return &Extractor{
		image:   image,
		Timeout: timeout,
		log:     log,
		stat:    os.Stat,
		yield:   runtime.Gosched,
		now:     time.Now,
	}
}

// Extract 解压到 path，文件长度等于解压长度时返回 true。
func (e *Extractor) Extract(path string) bool {
	if err := e.ExtractErr(path); err != nil {
		e.log.Warn(err)
		return false
	}
	return true
}

// ExtractErr 与 Extract 相同，但返回失败原因。
func (e *Extractor) ExtractErr(path string) error {
	if e.image == nil {
		return newError(ExtractionFailed, nil, "未内嵌驱动镜像")
	}

	if err := e.write(path); err != nil {
		return newError(ExtractionFailed, err, "解压驱动到 %s 失败", path)
	}

	// 拷贝返回后文件不一定立即完整可见，轮询直到长度一致
	deadline := e.now().Add(e.Timeout)
	for {
		fi, err := e.stat(path)
		if err == nil && fi.Size() == e.image.Size {
			e.log.Debugf("已解压驱动 %s (%d 字节, blake3=%s)", path, e.image.Size, e.image.Digest)
			return nil
		}
		if !e.now().Before(deadline) {
			got := int64(-1)
			if err == nil {
				got = fi.Size()
			}
			return newError(ExtractionFailed, nil, "等待驱动文件 %s 超时 (%d != %d)", path, got, e.image.Size)
		}
		e.yield()
	}
}

func (e *Extractor) write(path string) error {
	rc := e.image.open()
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, rc); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
