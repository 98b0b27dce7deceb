// Package notify 处理推送消息：解析载荷、渲染通知、维护最近通知列表以及通知点击动作。
package notify

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTitle = "MCNepal.fun"
	DefaultBody  = "New update from MCNepal.fun!"

	iconPath  = "/assets/images/logo-192.png"
	badgePath = "/assets/images/badge-72.png"
)

// 点击动作。空字符串表示点击通知主体。
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// Payload 是推送消息体，字段均可选。
type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	PrimaryKey any    `json:"primaryKey"`
}

// Action 是通知上的按钮。
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon"`
}

// Data 随通知携带的附加数据。
type Data struct {
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    any   `json:"primaryKey"`
}

// Notification 是渲染后的通知。
type Notification struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// ParsePayload 解析推送消息体；空消息或非 JSON 对象返回 false，调用方直接丢弃。
func ParsePayload(raw []byte) (Payload, bool) {
	raw = bytes.TrimSpace(raw)
	// null 或数组等能通过 Unmarshal 的非对象消息同样视为畸形。
	if len(raw) == 0 || raw[0] != '{' {
		return Payload{}, false
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, false
	}
	return payload, true
}

// Render 按默认值补全载荷并生成通知。
func Render(payload Payload, now time.Time) Notification {
	title := payload.Title
	if title == "" {
		title = DefaultTitle
	}
	body := payload.Body
	if body == "" {
		body = DefaultBody
	}
	return Notification{
		ID:      uuid.NewString(),
		Title:   title,
		Body:    body,
		Icon:    iconPath,
		Badge:   badgePath,
		Vibrate: []int{100, 50, 100},
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    primaryKeyOrDefault(payload.PrimaryKey),
		},
		Actions: []Action{
			{Action: ActionExplore, Title: "Visit Server", Icon: "/assets/images/action-explore.png"},
			{Action: ActionClose, Title: "Close", Icon: "/assets/images/action-close.png"},
		},
	}
}

// primaryKeyOrDefault 将空值（nil、空串、0、false）替换为 1。
func primaryKeyOrDefault(value any) any {
	switch v := value.(type) {
	case nil:
		return 1
	case string:
		if v == "" {
			return 1
		}
	case float64:
		if v == 0 {
			return 1
		}
	case bool:
		if !v {
			return 1
		}
	}
	return value
}

// Click 返回点击动作需要打开的地址；close 只关闭通知，返回 false。
func Click(action, siteURL string) (string, bool) {
	if action == ActionClose {
		return "", false
	}
	return siteURL, true
}
