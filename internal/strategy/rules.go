package strategy

import "strings"

// Rule 是一条 (URL 子串, 策略) 映射。
type Rule struct {
	Pattern  string `json:"pattern"`
	Strategy Kind   `json:"strategy"`
}

// Rules 为有序规则表，先匹配者生效。
type Rules []Rule

// NewRules 按 network-first 在前、cache-first 在后的顺序构建规则表，空白模式被忽略。
func NewRules(networkFirst, cacheFirst []string) Rules {
	rules := make(Rules, 0, len(networkFirst)+len(cacheFirst))
	for _, pattern := range networkFirst {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			rules = append(rules, Rule{Pattern: pattern, Strategy: NetworkFirst})
		}
	}
	for _, pattern := range cacheFirst {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			rules = append(rules, Rule{Pattern: pattern, Strategy: CacheFirst})
		}
	}
	return rules
}

// Match 返回 URL 对应的策略；没有规则命中时返回 stale-while-revalidate。
func (r Rules) Match(rawURL string) Kind {
	for _, rule := range r {
		if strings.Contains(rawURL, rule.Pattern) {
			return rule.Strategy
		}
	}
	return DefaultKind()
}
