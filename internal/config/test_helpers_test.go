package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var siteHost = HostConfig{Name: "site", Domain: "www.mcnepal.fun", Upstream: "https://mcnepal.vercel.app"}

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeEdgeConfig 写出一份临时 TOML：globals 为顶层键值，hosts 为空时附带默认主站。
func writeEdgeConfig(t *testing.T, globals string, hosts ...HostConfig) string {
	t.Helper()
	if len(hosts) == 0 {
		hosts = []HostConfig{siteHost}
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(globals))
	b.WriteString("\n")
	for _, host := range hosts {
		fmt.Fprintf(&b, "\n[[Host]]\nName = %q\nDomain = %q\nUpstream = %q\n", host.Name, host.Domain, host.Upstream)
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
