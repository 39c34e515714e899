package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

const validConfig = `
server:
  port: 8080
  mode: test
engine:
  correctness_trials: 3
  performance_trials: 10
  trial_timeout: 60
  job_deadline: 600
devices:
  - name: H100
    slots: 8
    max_concurrent: 4
  - name: A100
    slots: 2
runners:
  - dsl: triton
    device: H100
    command: ["python3", "-m", "harness"]
    env: ["PYTHONUNBUFFERED=1"]
    sandbox: true
  - dsl: cuda
    device: A100
    command: ["python3", "-m", "harness", "--cuda"]
sandbox:
  enabled: true
  mem_limit_mb: 16384
  bind_mounts: ["/dev/nvidia0", "/dev/nvidiactl"]
`

func readConfig(t *testing.T, content string) *viper.Viper {
	t.Helper()
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	if err := cfg.ReadConfig(strings.NewReader(content)); err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	SetDefaultValues(cfg)
	return cfg
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *viper.Viper)
		wantErr string
	}{
		{"合法配置", func(cfg *viper.Viper) {}, ""},
		{"端口无效", func(cfg *viper.Viper) { cfg.Set("server.port", 70000) }, "端口号无效"},
		{"运行模式无效", func(cfg *viper.Viper) { cfg.Set("server.mode", "staging") }, "运行模式无效"},
		{"性能试验次数为0", func(cfg *viper.Viper) { cfg.Set("engine.performance_trials", 0) }, "性能试验次数无效"},
		{"重试次数为负", func(cfg *viper.Viper) { cfg.Set("engine.max_retries", -1) }, "重试次数无效"},
		{"总时限小于试验超时", func(cfg *viper.Viper) { cfg.Set("engine.job_deadline", 30) }, "任务总时限无效"},
		{"存储驱动无效", func(cfg *viper.Viper) { cfg.Set("database.driver", "sqlite") }, "数据库驱动无效"},
		{"缓存TTL无效", func(cfg *viper.Viper) { cfg.Set("cache.ttl", 0) }, "缓存TTL无效"},
		{"运行器引用未知设备", func(cfg *viper.Viper) {
			cfg.Set("runners", []map[string]interface{}{
				{"dsl": "triton", "device": "MI300", "command": []string{"python3"}},
			})
		}, "未配置的设备"},
		{"运行器缺少命令", func(cfg *viper.Viper) {
			cfg.Set("runners", []map[string]interface{}{
				{"dsl": "triton", "device": "H100"},
			})
		}, "缺少评测命令"},
		{"设备重复", func(cfg *viper.Viper) {
			cfg.Set("devices", []map[string]interface{}{
				{"name": "H100", "slots": 1},
				{"name": "H100", "slots": 2},
			})
		}, "设备类别重复"},
		{"没有设备", func(cfg *viper.Viper) { cfg.Set("devices", []map[string]interface{}{}) }, "至少需要配置一个设备类别"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := readConfig(t, validConfig)
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateConfig() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateConfig() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEngineConfig(t *testing.T) {
	cfg := readConfig(t, validConfig)
	engine := LoadEngineConfig(cfg)

	if engine.CorrectnessTrials != 3 || engine.PerformanceTrials != 10 {
		t.Errorf("试验次数错误: %+v", engine)
	}
	if engine.TrialTimeout != time.Minute {
		t.Errorf("TrialTimeout = %v, want 1m", engine.TrialTimeout)
	}
	if engine.JobDeadline != 10*time.Minute {
		t.Errorf("JobDeadline = %v, want 10m", engine.JobDeadline)
	}
	// 未配置的项使用默认值
	if engine.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", engine.MaxRetries)
	}
}

func TestLoadDeviceAndRunnerConfigs(t *testing.T) {
	cfg := readConfig(t, validConfig)

	devices, err := LoadDeviceConfigs(cfg)
	if err != nil {
		t.Fatalf("LoadDeviceConfigs() error = %v", err)
	}
	if len(devices) != 2 || devices[0].Name != "H100" || devices[0].Slots != 8 || devices[0].MaxConcurrent != 4 {
		t.Errorf("设备配置错误（名称需保持大小写）: %+v", devices)
	}

	runners, err := LoadRunnerConfigs(cfg)
	if err != nil {
		t.Fatalf("LoadRunnerConfigs() error = %v", err)
	}
	if len(runners) != 2 {
		t.Fatalf("运行器数量 = %d, want 2", len(runners))
	}
	if !runners[0].Sandbox || runners[0].Command[2] != "harness" || runners[0].Env[0] != "PYTHONUNBUFFERED=1" {
		t.Errorf("运行器配置错误: %+v", runners[0])
	}

	sandbox := LoadSandboxConfig(cfg)
	if sandbox == nil {
		t.Fatal("LoadSandboxConfig() 返回 nil")
	}
	if sandbox.MemLimitMB != 16384 || len(sandbox.BindMounts) != 2 || sandbox.UID != 99999 {
		t.Errorf("沙箱配置错误: %+v", sandbox)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	if cfg.GetString("server.mode") != "test" {
		t.Errorf("server.mode = %s", cfg.GetString("server.mode"))
	}
	if cfg.GetString("database.driver") != "memory" {
		t.Errorf("Load 应设置默认值, database.driver = %s", cfg.GetString("database.driver"))
	}
}
