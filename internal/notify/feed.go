package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcnepal/edgecache/internal/logging"
)

// Feed 保存最近展示过的通知，超过上限时丢弃最旧的一条。
type Feed struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewFeed 创建容量为 limit 的通知列表，limit<=0 时使用 50。
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{limit: limit}
}

// Add 追加一条通知。
func (f *Feed) Add(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, n)
	if overflow := len(f.items) - f.limit; overflow > 0 {
		f.items = append([]Notification(nil), f.items[overflow:]...)
	}
}

// List 按时间倒序返回通知副本。
func (f *Feed) List() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]Notification, len(f.items))
	for i, item := range f.items {
		result[len(f.items)-1-i] = item
	}
	return result
}

// Len 返回当前通知数。
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Service 串联解析、渲染与入列。
type Service struct {
	feed    *Feed
	siteURL string
	logger  *logrus.Entry
	now     func() time.Time
}

// NewService 构造推送服务。
func NewService(feed *Feed, siteURL string, logger *logrus.Logger) *Service {
	if feed == nil {
		feed = NewFeed(0)
	}
	return &Service{
		feed:    feed,
		siteURL: siteURL,
		logger:  logging.Component(logger, "notify"),
		now:     time.Now,
	}
}

// Push 处理一条推送；载荷为空或非法时返回 false，不产生通知。
func (s *Service) Push(raw []byte) (Notification, bool) {
	payload, ok := ParsePayload(raw)
	if !ok {
		s.logger.WithField("action", "push").Debug("push_payload_dropped")
		return Notification{}, false
	}
	n := Render(payload, s.now())
	s.feed.Add(n)
	s.logger.WithFields(logrus.Fields{"action": "push", "id": n.ID, "title": n.Title}).Info("notification_shown")
	return n, true
}

// Feed 返回通知列表。
func (s *Service) Feed() *Feed {
	return s.feed
}

// Click 处理通知点击动作。
func (s *Service) Click(action string) (string, bool) {
	target, open := Click(action, s.siteURL)
	s.logger.WithFields(logrus.Fields{"action": "notification_click", "click": action, "open": open}).Debug("notification_clicked")
	return target, open
}
