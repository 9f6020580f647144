package main

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OmenMon/OmenMon-sub001/internal/config"
	"github.com/OmenMon/OmenMon-sub001/internal/driver"
	"github.com/OmenMon/OmenMon-sub001/internal/logging"
)

// 由 -ldflags 在编译时注入
var (
	version   = "dev"
	buildTime = "unknown"
)

type cmdGlobal struct {
	flagConfig string
	flagDebug  bool

	cfg    *config.Config
	logger *logrus.Logger
}

func main() {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{
		Use:   "ring0d",
		Short: "Kernel driver bridge for MSR, I/O port, PCI and physical memory access",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.Load(globalCmd.flagConfig)
			if err != nil {
				return err
			}
			if globalCmd.flagDebug {
				cfg.Logging.Level = "debug"
			}
			globalCmd.cfg = cfg
			globalCmd.logger = logging.New(cfg.Logging)
			return nil
		},
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	app.PersistentFlags().StringVarP(&globalCmd.flagConfig, "config", "c", "", "Path to YAML configuration file")
	app.PersistentFlags().BoolVar(&globalCmd.flagDebug, "debug", false, "Enable debug output")

	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = fmt.Sprintf("%s (%s)", version, buildTime)

	serveCmd := cmdServe{global: &globalCmd}
	app.AddCommand(serveCmd.command())

	statusCmd := cmdStatus{global: &globalCmd}
	app.AddCommand(statusCmd.command())

	uninstallCmd := cmdUninstall{global: &globalCmd}
	app.AddCommand(uninstallCmd.command())

	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}

// newResolver 按配置创建路径与服务名解析器。
func (c *cmdGlobal) newResolver() *driver.Resolver {
	d := c.cfg.Driver
	return driver.NewResolver(d.ServicePrefix, d.DefaultServiceName, d.FallbackDir)
}

// newBridge 按配置组装驱动桥。镜像缺失时桥接器只能重连已注册的服务。
func (c *cmdGlobal) newBridge() (*driver.Bridge, *driver.Registers) {
	d := c.cfg.Driver
	log := logrus.NewEntry(c.logger)

	image, err := loadImage(assets, d.Image, d.ImageDigest)
	if err != nil {
		log.Warnf("驱动镜像不可用，仅尝试连接已注册的服务: %v", err)
	}

	extractor := driver.NewExtractor(image, d.ExtractTimeout, log.WithField("component", "extract"))
	bridge := driver.NewBridge(
		driver.NativePlatform(),
		d.DeviceID,
		c.newResolver(),
		extractor,
		driver.WithDeviceType(uint16(d.DeviceType)),
		driver.WithRetryDelay(d.InstallRetryDelay),
		driver.WithLogger(log),
	)
	return bridge, driver.NewRegisters(bridge)
}

func loadImage(fsys fs.FS, name, digest string) (*driver.Image, error) {
	image, err := driver.LoadImage(fsys, "assets/"+name)
	if err != nil {
		return nil, err
	}
	if err := image.Verify(digest); err != nil {
		return nil, err
	}
	return image, nil
}
