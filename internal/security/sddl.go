package security

// ObjectSDDL 仅允许 LocalSystem 与 Administrators 访问(受保护 DACL)。
const ObjectSDDL = "D:P(A;;GA;;;SY)(A;;GA;;;BA)"

// PipeSDDL 在 ObjectSDDL 基础上追加指定 SID 的完全访问权限。
func PipeSDDL(sid string) string {
	if sid == "" {
		return ObjectSDDL
	}
	return ObjectSDDL + "(A;;GA;;;" + sid + ")"
}
