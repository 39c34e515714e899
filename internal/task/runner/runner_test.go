package runner

import (
	"context"
	"testing"

	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"
)

func noopRunner() Runner {
	return RunnerFunc(func(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
		return &model.TrialResult{Kind: spec.Kind, Index: spec.Index, Passed: true}, nil
	})
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("triton", "H100", noopRunner()); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if err := r.Register("cuda", "H100", noopRunner()); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	tests := []struct {
		name    string
		dsl     string
		device  string
		wantErr bool
	}{
		{"精确匹配", "triton", "H100", false},
		{"另一DSL", "cuda", "H100", false},
		{"设备不匹配", "triton", "A100", true},
		{"DSL不匹配", "helion", "H100", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rn, err := r.Lookup(tt.dsl, tt.device)
			if tt.wantErr {
				if !judgeErr.IsErrorCode(err, judgeErr.ErrCodeUnsupportedTarget) {
					t.Errorf("期望 UnsupportedTarget，实际 %v", err)
				}
				return
			}
			if err != nil || rn == nil {
				t.Errorf("查找失败: %v", err)
			}
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("triton", "H100", noopRunner()); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if err := r.Register("triton", "H100", noopRunner()); err == nil {
		t.Error("重复注册应当失败")
	}
	if err := r.Register("", "H100", noopRunner()); err == nil {
		t.Error("空 DSL 应当失败")
	}

	targets := r.Targets()
	if len(targets) != 1 || targets[0] != (Target{DSL: "triton", Device: "H100"}) {
		t.Errorf("Targets() = %v", targets)
	}
}

func TestParseReport(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantErr    bool
		wantPassed bool
		wantDetail string
	}{
		{"仅结果行", `{"passed":true,"elapsed_ms":9}`, false, true, ""},
		{"结果前有日志", "warming up\ncompiling\n{\"passed\":false,\"detail\":\"mismatch\"}\n\n", false, false, "mismatch"},
		{"CRLF", "log\r\n{\"passed\":true,\"elapsed_ms\":1.5}\r\n", false, true, ""},
		{"空输出", "", true, false, ""},
		{"非JSON", "Traceback (most recent call last):", true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := parseReport(tt.stdout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseReport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if report.Passed != tt.wantPassed || report.Detail != tt.wantDetail {
				t.Errorf("parseReport() = %+v", report)
			}
		})
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := truncateOutput("abc", 10); got != "abc" {
		t.Errorf("未超限不应截断: %q", got)
	}
	if got := truncateOutput("abcdef", 3); got[:3] != "abc" || len(got) <= 3 {
		t.Errorf("截断结果错误: %q", got)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("hello world"))
	if err != nil || n != 11 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if !b.Truncated() {
		t.Error("应当标记为截断")
	}
	if got := b.String(); got[:4] != "hell" {
		t.Errorf("String() = %q", got)
	}
}
