package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 host/domain/策略/命中来源字段，供代理请求日志复用。
func RequestFields(host, domain, strategy, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"host":      host,
		"domain":    domain,
		"strategy":  strategy,
		"source":    source,
		"cache_hit": cacheHit,
	}
}

// StoreFields 描述一次缓存存储操作，供 router 与 worker 输出一致的字段。
func StoreFields(action, store, key string) logrus.Fields {
	fields := logrus.Fields{
		"action": action,
		"store":  store,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}
