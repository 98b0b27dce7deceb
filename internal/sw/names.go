package sw

import "fmt"

// Names 生成带版本标签的缓存名称，版本变化即意味着旧分区在激活时被清理。
type Names struct {
	Prefix  string
	Version string
}

// CacheName 返回版本标签，例如 mcnepal-v1.0.0，GET_VERSION 消息返回该值。
func (n Names) CacheName() string {
	return fmt.Sprintf("%s-v%s", n.Prefix, n.Version)
}

// Static 返回静态分区名称。
func (n Names) Static() string {
	return fmt.Sprintf("%s-static-v%s", n.Prefix, n.Version)
}

// Dynamic 返回动态分区名称。
func (n Names) Dynamic() string {
	return fmt.Sprintf("%s-dynamic-v%s", n.Prefix, n.Version)
}

// Current 判断分区是否属于当前版本。
func (n Names) Current(store string) bool {
	return store == n.Static() || store == n.Dynamic()
}
