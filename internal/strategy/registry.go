package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu    sync.RWMutex
	kinds map[Kind]Metadata
}

func newRegistry() *registry {
	return &registry{kinds: make(map[Kind]Metadata)}
}

// Register 将策略元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的策略元数据，大小写不敏感。
func Resolve(key Kind) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的策略元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册策略的键值。
func Keys() []Kind {
	items := List()
	result := make([]Kind, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func normalizeKey(key Kind) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(key))))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("strategy key is required")
	}
	switch meta.Store {
	case StoreStatic, StoreDynamic:
	default:
		return fmt.Errorf("strategy %s: unknown store role %q", key, meta.Store)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[key]; exists {
		return fmt.Errorf("strategy %s already registered", key)
	}
	r.kinds[key] = meta
	return nil
}

func (r *registry) resolve(key Kind) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.kinds[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.kinds) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.kinds))
	for key := range r.kinds {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.kinds[Kind(key)])
	}
	return result
}
