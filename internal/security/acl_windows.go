//go:build windows

package security

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// RestrictObjectAccess 将对象(如 \\.\WinRing0_1_2_0)的 DACL 设为 ObjectSDDL。
func RestrictObjectAccess(path string) error {
	sd, err := windows.SecurityDescriptorFromString(ObjectSDDL)
	if err != nil {
		return fmt.Errorf("解析 SDDL 失败: %w", err)
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return fmt.Errorf("读取 DACL 失败: %w", err)
	}

	err = windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil,
		nil,
		dacl,
		nil,
	)
	if err != nil {
		return fmt.Errorf("SetNamedSecurityInfo 失败 [%s]: %w", path, err)
	}
	return nil
}
