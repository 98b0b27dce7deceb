package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliOutput 收集 run 写往 stdout/stderr 的内容。
type cliOutput struct {
	out bytes.Buffer
	err bytes.Buffer
}

// captureCLI 在测试期间把 stdOut/stdErr 替换为内存缓冲区。
func captureCLI(t *testing.T) *cliOutput {
	t.Helper()
	captured := &cliOutput{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &captured.out, &captured.err
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return captured
}

// configFixture 指向 internal/config/testdata 下的共享配置样例；go test 的工作目录即模块根目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

// writeEdgeConfig 生成只含主站 Host 的最小配置，globals 追加在顶层；缓存目录落在临时目录。
func writeEdgeConfig(t *testing.T, globals string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
StoragePath = %q
ListenPort = 5000
%s

[[Host]]
Name = "site"
Domain = "www.mcnepal.fun"
Upstream = "https://mcnepal.vercel.app"
`, filepath.Join(dir, "storage"), strings.TrimSpace(globals))

	file := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
