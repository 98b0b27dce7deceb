package sw

import (
	"context"
	"strings"
)

// 消息类型与页面端约定保持一致。
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
	MessageClearCache  = "CLEAR_CACHE"
)

// Message 是页面发往 worker 的控制消息。
type Message struct {
	Type string `json:"type"`
}

// VersionReply 是 GET_VERSION 的回复。
type VersionReply struct {
	Version string `json:"version"`
}

// ClearCacheReply 是 CLEAR_CACHE 的回复。
type ClearCacheReply struct {
	Success bool `json:"success"`
}

// HandleMessage 处理一条控制消息；返回 nil 回复表示该消息无需应答，未知类型直接忽略。
func (w *Worker) HandleMessage(ctx context.Context, msg Message) (any, error) {
	switch strings.TrimSpace(msg.Type) {
	case MessageSkipWaiting:
		return nil, w.SkipWaiting(ctx)
	case MessageGetVersion:
		return VersionReply{Version: w.Version()}, nil
	case MessageClearCache:
		if err := w.ClearCache(ctx); err != nil {
			return nil, err
		}
		return ClearCacheReply{Success: true}, nil
	default:
		w.logger.WithField("type", msg.Type).Debug("message_ignored")
		return nil, nil
	}
}
