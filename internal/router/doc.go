// Package router 实现边缘缓存的请求分发：每个可拦截的 GET 请求按规则表
// 选定 network-first、cache-first 或 stale-while-revalidate 之一，
// 在 static/dynamic 两个版本化分区与上游之间取数。
//
// 后台刷新在脱离请求生命周期的 context 上执行，同一 (分区, URL) 同时只刷新一次，
// 调用方可通过 Wait 等待全部后台任务结束。
package router
