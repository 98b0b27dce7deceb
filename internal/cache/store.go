package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Store 管理多个具名缓存分区，每个分区是 URL → Response 的持久映射。
// 分区在首次写入时创建，条目在显式删除或整个分区被删除前一直保留。
type Store interface {
	// Get 返回指定分区中 key 对应的响应；不存在时返回 ErrNotFound。
	Get(ctx context.Context, store, key string) (*Response, error)

	// Put 写入（或覆盖）一条响应，实现需保证并发写同一 key 时不会产生半写入。
	Put(ctx context.Context, store, key string, resp *Response) error

	// Delete 删除单条缓存，条目不存在时不返回错误。
	Delete(ctx context.Context, store, key string) error

	// Keys 按字典序返回分区中的全部 key。
	Keys(ctx context.Context, store string) ([]string, error)

	// Stores 按字典序返回当前存在的分区名称。
	Stores(ctx context.Context) ([]string, error)

	// DeleteStore 删除整个分区；分区不存在时返回 false。
	DeleteStore(ctx context.Context, store string) (bool, error)
}

// Response 是一次完整的上游响应，缓存命中时原样回放。
type Response struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK 对应 fetch 语义中的 response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Date 解析响应的 Date 头，缺失或格式非法时返回 false。
func (r *Response) Date() (time.Time, bool) {
	if r == nil || r.Header == nil {
		return time.Time{}, false
	}
	raw := r.Header.Get("Date")
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// 共享分区拒收响应的原因，同时作为 edgecache_cache_bypass_total 的 reason 标签。
const (
	BypassStatus      = "status"
	BypassSetCookie   = "set_cookie"
	BypassPrivate     = "private"
	BypassNoStore     = "no_store"
	BypassVaryAll     = "vary_all"
	BypassCredentials = "credentials"
)

// BypassReason 返回响应不能写入共享分区的原因，可写入时返回空字符串。
// 分区由所有客户端共用，携带会话或标记为私有的响应只交给发起请求的客户端。
func (r *Response) BypassReason() string {
	if !r.OK() {
		return BypassStatus
	}
	if len(r.Header.Values("Set-Cookie")) > 0 {
		return BypassSetCookie
	}
	for _, value := range r.Header.Values("Vary") {
		for _, token := range strings.Split(value, ",") {
			if strings.TrimSpace(token) == "*" {
				return BypassVaryAll
			}
		}
	}
	directives := r.cacheControl()
	if _, ok := directives["no-store"]; ok {
		return BypassNoStore
	}
	if _, ok := directives["private"]; ok {
		return BypassPrivate
	}
	return ""
}

// Shareable 报告响应能否写入共享分区。
func (r *Response) Shareable() bool {
	return r.BypassReason() == ""
}

// Public 报告 Cache-Control 是否显式允许共享缓存保存带凭据请求的响应（public 或 s-maxage）。
func (r *Response) Public() bool {
	directives := r.cacheControl()
	_, public := directives["public"]
	_, sMaxAge := directives["s-maxage"]
	return public || sMaxAge
}

func (r *Response) cacheControl() map[string]struct{} {
	if r == nil {
		return nil
	}
	directives := make(map[string]struct{})
	for _, value := range r.Header.Values("Cache-Control") {
		for _, part := range strings.Split(value, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
			if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
				directives[name] = struct{}{}
			}
		}
	}
	return directives
}

// Clone 返回深拷贝，避免调用方修改缓存中的 Header/Body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidStoreName 表示分区名称为空或包含路径分隔符。
	ErrInvalidStoreName = errors.New("invalid cache store name")
)
