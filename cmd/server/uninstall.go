package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/OmenMon/OmenMon-sub001/internal/driver"
)

type cmdUninstall struct {
	global *cmdGlobal
}

func (c *cmdUninstall) command() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and delete the driver service left behind by a previous session",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
}

func (c *cmdUninstall) run(cmd *cobra.Command, args []string) error {
	log := logrus.NewEntry(c.global.logger).WithField("component", "uninstall")
	log.Info("进入手动卸载模式")

	resolver := c.global.newResolver()
	name := resolver.ResolveServiceName()

	installer := driver.NewInstaller(driver.NativePlatform(), name, driver.DevicePath(c.global.cfg.Driver.DeviceID), log)
	defer installer.Close()

	if !installer.Delete() {
		return fmt.Errorf("卸载服务 %s 失败", name)
	}
	log.Infof("已卸载服务 %s", name)

	// 清理可能残留的驱动文件
	for _, candidate := range resolver.Files {
		path, err := candidate()
		if err != nil || path == "" {
			continue
		}
		if err := os.Remove(path); err == nil {
			log.Infof("已删除残留文件 %s", path)
		}
	}

	log.Info("卸载完成")
	return nil
}
