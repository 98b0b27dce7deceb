package router

import (
	"net/http"
	"net/url"
	"strings"
)

// Request 描述一次待分发的请求，URL 为上游的完整地址（含查询串），同时作为缓存键。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// Key 返回缓存键。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// AcceptsHTML 判断请求的 Accept 头是否包含 text/html。
func (r *Request) AcceptsHTML() bool {
	if r == nil || r.Header == nil {
		return false
	}
	for _, value := range r.Header.Values("Accept") {
		if strings.Contains(value, "text/html") {
			return true
		}
	}
	return false
}

// Intercepts 仅接管 http/https 的 GET 请求，其余请求直接透传且永不入缓存。
func Intercepts(req *Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodGet {
		return false
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}
