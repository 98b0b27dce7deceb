// Package strategy 描述边缘缓存支持的三种取数策略，并提供统一的注册入口。
//
// 每种策略在 init() 中注册元数据（键、说明、读写的分区角色、是否后台刷新、
// 是否允许离线兜底），路由器与诊断接口均从注册表查询；请求到策略的映射
// 由 Rules 按子串匹配完成。
package strategy
