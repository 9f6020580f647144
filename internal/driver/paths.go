package driver

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
)

const driverExt = ".sys"

// Candidate 产生一个候选值，失败时跳过。
type Candidate func() (string, error)

// Resolver 按顺序挑选驱动镜像的落盘路径和服务名，第一个可用者胜出。
type Resolver struct {
	Files  []Candidate
	Names  []Candidate
	Prefix string
	// Default 所有服务名候选都不可用时的兜底名称。
	Default string
	// Probe 校验路径可写: 创建后立即删除。
	Probe func(path string) error
}

// NewResolver 创建默认策略的解析器:
//
//	文件: 可执行文件路径 → 解析符号链接后的路径 → fallbackDir(为空时用户缓存目录) → 临时文件
//	名称: 可执行文件名 → 主模块路径 → 主包路径 → defaultName
func NewResolver(prefix, defaultName, fallbackDir string) *Resolver {
	return &Resolver{
		Files: []Candidate{
			executableCandidate,
			resolvedExecutableCandidate,
			dirCandidate(fallbackDir),
			tempCandidate,
		},
		Names: []Candidate{
			executableNameCandidate,
			moduleNameCandidate,
			packageNameCandidate,
		},
		Prefix:  prefix,
		Default: defaultName,
		Probe:   probeWritable,
	}
}

// ResolveFilePath 返回第一个通过写入探测的候选路径，全部失败时 ok 为 false。
func (r *Resolver) ResolveFilePath() (string, bool) {
	for _, candidate := range r.Files {
		p, err := candidate()
		if err != nil || p == "" {
			continue
		}
		if err := r.Probe(p); err != nil {
			continue
		}
		return p, true
	}
	return "", false
}

// ResolveServiceName 返回第一个清洗后非空的候选服务名。
func (r *Resolver) ResolveServiceName() string {
	for _, candidate := range r.Names {
		name, err := candidate()
		if err != nil {
			continue
		}
		if s := sanitizeName(name); s != "" {
			return r.Prefix + s
		}
	}
	return r.Prefix + sanitizeName(r.Default)
}

// sanitizeName 去除空格和点号。
func sanitizeName(name string) string {
	return strings.NewReplacer(" ", "", ".", "").Replace(name)
}

func replaceExt(p, ext string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + ext
}

func executableCandidate() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return replaceExt(exe, driverExt), nil
}

func resolvedExecutableCandidate() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return replaceExt(resolved, driverExt), nil
}

func dirCandidate(dir string) Candidate {
	return func() (string, error) {
		base := dir
		if base == "" {
			cache, err := os.UserCacheDir()
			if err != nil {
				return "", err
			}
			base = cache
		}
		exe, err := os.Executable()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, replaceExt(filepath.Base(exe), driverExt)), nil
	}
}

func tempCandidate() (string, error) {
	f, err := os.CreateTemp("", "ring0-*"+driverExt)
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return name, nil
}

func executableNameCandidate() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	base := filepath.Base(exe)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}

func moduleNameCandidate() (string, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Path == "" {
		return "", errors.New("无构建信息")
	}
	return path.Base(bi.Main.Path), nil
}

func packageNameCandidate() (string, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Path == "" {
		return "", errors.New("无构建信息")
	}
	return path.Base(bi.Path), nil
}

func probeWritable(p string) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(p)
}
