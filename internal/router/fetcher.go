package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/server"
)

// Fetcher 执行一次上游请求并返回完整响应；传输层失败以 error 返回，非 2xx 状态码不算错误。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 基于共享 http.Client 回源，响应体整体读入内存以便写入缓存。
type HTTPFetcher struct {
	client  *http.Client
	maxBody int64
}

// NewHTTPFetcher 构造上游 Fetcher；maxBody<=0 表示不限制响应体大小。
func NewHTTPFetcher(client *http.Client, maxBody int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, maxBody: maxBody}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("fetch: request url required")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstreamReq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(upstreamReq.Header, req.Header)
	}
	// 缓存保存解压后的原文，避免回放时 Content-Encoding 与内容不一致。
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Header.Del("Host")
	upstreamReq.Host = req.URL.Host

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if f.maxBody > 0 {
		reader = io.LimitReader(resp.Body, f.maxBody+1)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if f.maxBody > 0 && int64(len(payload)) > f.maxBody {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", f.maxBody)
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	if header.Get("Date") == "" {
		header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	return &cache.Response{
		URL:    req.URL.String(),
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
	}, nil
}
