package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := c.Global.validate(); err != nil {
		return err
	}
	if err := c.Worker.validate(); err != nil {
		return err
	}

	if len(c.Hosts) == 0 {
		return errors.New("至少需要配置一个 Host")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Hosts {
		host := &c.Hosts[i]
		if host.Name == "" {
			return newFieldError("Host[].Name", "不能为空")
		}
		if _, exists := seenNames[host.Name]; exists {
			return newFieldError(hostField(host.Name, "Name"), "重复")
		}
		seenNames[host.Name] = struct{}{}

		if err := validateDomain(host.Domain); err != nil {
			return fmt.Errorf("%s: %w", hostField(host.Name, "Domain"), err)
		}
		domain := strings.ToLower(host.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(hostField(host.Name, "Domain"), "重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateUpstream(host.Upstream); err != nil {
			return fmt.Errorf("%s: %w", hostField(host.Name, "Upstream"), err)
		}
	}

	return nil
}

func (g GlobalConfig) validate() error {
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.StoreBackend {
	case StoreBackendDisk:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 后端需要地址")
		}
		if g.RedisDB < 0 {
			return newFieldError("Global.RedisDB", "不能为负数")
		}
	default:
		return newFieldError("Global.StoreBackend", "仅支持 disk/redis")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxBodySize <= 0 {
		return newFieldError("Global.MaxBodySize", "必须大于 0")
	}
	return nil
}

func (w WorkerConfig) validate() error {
	if err := validateTagPart(w.CachePrefix); err != nil {
		return newFieldError("Worker.CachePrefix", err.Error())
	}
	if err := validateTagPart(w.CacheVersion); err != nil {
		return newFieldError("Worker.CacheVersion", err.Error())
	}
	if err := validateUpstream(w.SiteURL); err != nil {
		return fmt.Errorf("Worker.SiteURL: %w", err)
	}
	if !strings.HasPrefix(w.OfflinePage, "/") {
		return newFieldError("Worker.OfflinePage", "必须是以 / 开头的站内路径")
	}
	switch w.InstallMode {
	case InstallModeBestEffort, InstallModeAtomic:
	default:
		return newFieldError("Worker.InstallMode", "仅支持 best-effort/atomic")
	}
	if w.CleanupInterval.DurationValue() <= 0 {
		return newFieldError("Worker.CleanupInterval", "必须大于 0")
	}
	if w.MaxEntryAge.DurationValue() <= 0 {
		return newFieldError("Worker.MaxEntryAge", "必须大于 0")
	}
	for i, pattern := range w.NetworkFirst {
		if strings.TrimSpace(pattern) == "" {
			return newFieldError(fmt.Sprintf("Worker.NetworkFirst[%d]", i), "不能为空")
		}
	}
	for i, pattern := range w.CacheFirst {
		if strings.TrimSpace(pattern) == "" {
			return newFieldError(fmt.Sprintf("Worker.CacheFirst[%d]", i), "不能为空")
		}
	}
	for i, entry := range w.Manifest {
		if err := validateManifestEntry(entry); err != nil {
			return newFieldError(fmt.Sprintf("Worker.Manifest[%d]", i), err.Error())
		}
	}
	return nil
}

// validateTagPart 保证版本标签可以安全拼接进缓存名称与磁盘目录。
func validateTagPart(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("不能为空")
	}
	if strings.ContainsAny(value, `/\: `) {
		return errors.New("不允许包含 / \\ : 或空格")
	}
	return nil
}

func validateManifestEntry(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("不能为空")
	}
	if strings.HasPrefix(raw, "/") {
		return nil
	}
	return validateUpstream(raw)
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
