// Package sw 管理边缘缓存的 worker 生命周期：安装时预取静态清单，
// 激活时清理旧版本分区并开始接管请求，之后处理控制消息、每日清理与后台同步。
package sw
