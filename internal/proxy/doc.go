// Package proxy 将 Fiber 请求桥接到边缘缓存路由器：worker 接管后 GET 请求按策略分发，
// 其余请求直接透传上游。
package proxy
