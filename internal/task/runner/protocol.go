package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// harnessReport 评测脚本在 stdout 最后一个非空行输出的结果
type harnessReport struct {
	Passed    bool     `json:"passed"`
	ElapsedMS *float64 `json:"elapsed_ms"`
	Detail    string   `json:"detail"`
	Error     string   `json:"error"`
}

var errNoReport = errors.New("评测脚本没有输出结果")

// parseReport 从 stdout 中解析最后一个非空行
func parseReport(stdout string) (*harnessReport, error) {
	lines := strings.Split(strings.ReplaceAll(stdout, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var report harnessReport
		if err := json.Unmarshal([]byte(line), &report); err != nil {
			return nil, fmt.Errorf("解析评测脚本输出失败: %w", err)
		}
		return &report, nil
	}
	return nil, errNoReport
}
