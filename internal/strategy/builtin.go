package strategy

func init() {
	MustRegister(Metadata{
		Key:             NetworkFirst,
		Description:     "优先访问上游，失败时回退动态分区或离线页",
		Store:           StoreDynamic,
		OfflineFallback: true,
	})
	MustRegister(Metadata{
		Key:               CacheFirst,
		Description:       "静态分区命中即返回，同时后台刷新",
		Store:             StoreStatic,
		BackgroundRefresh: true,
	})
	MustRegister(Metadata{
		Key:               StaleWhileRevalidate,
		Description:       "先返回动态分区副本，并行拉取上游更新缓存",
		Store:             StoreDynamic,
		BackgroundRefresh: true,
	})
}
