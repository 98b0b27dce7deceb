package strategy

// Kind 为策略键值，同时写入 X-Edge-Strategy 响应头。
type Kind string

const (
	NetworkFirst         Kind = "network-first"
	CacheFirst           Kind = "cache-first"
	StaleWhileRevalidate Kind = "stale-while-revalidate"
)

// StoreRole 描述策略读写的分区。
type StoreRole string

const (
	StoreStatic  StoreRole = "static"
	StoreDynamic StoreRole = "dynamic"
)

// Metadata 记录一种策略的静态信息。路由器按 Store 选择读写分区，诊断端原样输出。
type Metadata struct {
	Key               Kind      `json:"key"`
	Description       string    `json:"description"`
	Store             StoreRole `json:"store"`
	BackgroundRefresh bool      `json:"background_refresh"`
	OfflineFallback   bool      `json:"offline_fallback"`
}

// DefaultKind 返回未命中任何规则时使用的策略。
func DefaultKind() Kind {
	return StaleWhileRevalidate
}
