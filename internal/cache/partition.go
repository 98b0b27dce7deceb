package cache

import (
	"context"
	"errors"
)

// ErrStoreUnavailable 表示当前组件未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Partition 把 Store 与固定的分区名称绑定，router 持有 static/dynamic 两个 Partition。
type Partition struct {
	store Store
	name  string
}

// NewPartition 构造分区句柄；store 为空时所有操作返回 ErrStoreUnavailable。
func NewPartition(store Store, name string) Partition {
	return Partition{store: store, name: name}
}

// Name 返回分区名称（带版本标签）。
func (p Partition) Name() string {
	return p.name
}

// Enabled 返回当前是否具备缓存读写能力。
func (p Partition) Enabled() bool {
	return p.store != nil && p.name != ""
}

// Match 查找 key 对应的缓存，语义同 Store.Get。
func (p Partition) Match(ctx context.Context, key string) (*Response, error) {
	if !p.Enabled() {
		return nil, ErrStoreUnavailable
	}
	return p.store.Get(ctx, p.name, key)
}

// Put 写入缓存，语义同 Store.Put。
func (p Partition) Put(ctx context.Context, key string, resp *Response) error {
	if !p.Enabled() {
		return ErrStoreUnavailable
	}
	return p.store.Put(ctx, p.name, key, resp)
}

// Delete 删除单条缓存。
func (p Partition) Delete(ctx context.Context, key string) error {
	if !p.Enabled() {
		return ErrStoreUnavailable
	}
	return p.store.Delete(ctx, p.name, key)
}

// Keys 列出分区内全部 key。
func (p Partition) Keys(ctx context.Context) ([]string, error) {
	if !p.Enabled() {
		return nil, ErrStoreUnavailable
	}
	return p.store.Keys(ctx, p.name)
}
