package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"kernel-leaderboard/internal/constants"
	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/task/dsl"
	file_util "kernel-leaderboard/internal/util/file"
	judgeErr "kernel-leaderboard/pkg/errors"

	"go.uber.org/zap"
)

// HarnessResolver 返回 (operation, overload) 对应的参考评测脚本的本地路径
type HarnessResolver interface {
	Resolve(ctx context.Context, operation, overload string) (string, error)
}

// ProcessRunner 每次试验启动一个全新的评测进程。
//
// 进程退出即释放其持有的 GPU 上下文，因此一次试验的崩溃不会污染下一次试验。
// 评测脚本通过参数接收试验信息，并在 stdout 最后一行输出 JSON 结果。
type ProcessRunner struct {
	DSL       string
	Device    string
	Command   []string // 评测脚本命令，例如 ["python3", "-m", "harness"]
	Env       []string
	WorkRoot  string
	MaxOutput int
	Sandbox   *NsJail         // 为 nil 时直接运行
	Harness   HarnessResolver // 为 nil 时不下发参考脚本

	// 进程被杀死后等待输出管道关闭的时间
	WaitDelay time.Duration
}

// Run 实现 Runner
func (pr *ProcessRunner) Run(ctx context.Context, code string, spec model.TrialSpec, slot model.ResourceSlot) (*model.TrialResult, error) {
	if len(pr.Command) == 0 {
		return nil, judgeErr.NewAdapterFaultError("运行器未配置评测命令", nil)
	}
	startedAt := time.Now()

	workDir, cleanup, err := createTmpDir(pr.WorkRoot)
	if err != nil {
		return nil, judgeErr.NewAdapterFaultError("准备试验目录失败", err)
	}
	defer cleanup()

	codePath := filepath.Join(workDir, dsl.CodeFileName(pr.DSL))
	if err := file_util.WriteString(codePath, code, constants.CodeFilePerm); err != nil {
		return nil, judgeErr.NewAdapterFaultError("写入代码文件失败", err)
	}

	args := append([]string{}, pr.Command[1:]...)
	args = append(args,
		"--mode", string(spec.Kind),
		"--trial", strconv.Itoa(spec.Index),
		"--seed", strconv.FormatInt(spec.Seed, 10),
		"--operation", spec.Operation,
		"--overload", spec.Overload,
		"--submission", codePath,
	)

	if pr.Harness != nil {
		src, err := pr.Harness.Resolve(ctx, spec.Operation, spec.Overload)
		if err != nil {
			return nil, judgeErr.NewAdapterFaultError("获取参考评测脚本失败", err)
		}
		dst := filepath.Join(workDir, constants.HarnessFileName)
		if err := file_util.CopyFile(src, dst, file_util.WithPerm(constants.CodeFilePerm)); err != nil {
			return nil, judgeErr.NewAdapterFaultError("复制参考评测脚本失败", err)
		}
		args = append(args, "--reference", dst)
	}

	argv := append([]string{pr.Command[0]}, args...)
	if pr.Sandbox != nil {
		argv = pr.Sandbox.Wrap(workDir, spec.Timeout, argv)
	}

	trialCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		trialCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	stdout := newCappedBuffer(pr.MaxOutput)
	stderr := newCappedBuffer(pr.MaxOutput)

	cmd := exec.CommandContext(trialCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(append(os.Environ(), pr.Env...),
		fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", slot.InstanceID),
		fmt.Sprintf("HIP_VISIBLE_DEVICES=%d", slot.InstanceID),
	)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// 整个进程组一起杀掉，避免评测脚本派生的子进程继续占用 GPU
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = pr.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	zap.L().Debug("启动试验进程",
		zap.String("kind", string(spec.Kind)),
		zap.Int("index", spec.Index),
		zap.String("slot", slot.String()),
		zap.Strings("argv", argv),
	)

	runErr := cmd.Run()
	wall := time.Since(startedAt)

	if ctxErr := trialCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, judgeErr.NewRunnerTimeoutError(
				fmt.Sprintf("%s#%d", spec.Kind, spec.Index), ctxErr)
		}
		return nil, ctxErr
	}

	class, reason := classifyExit(stderr.String(), runErr)
	switch class {
	case exitTimeLimit:
		return nil, judgeErr.NewRunnerTimeoutError(fmt.Sprintf("%s#%d", spec.Kind, spec.Index), errors.New(reason))
	case exitMemoryLimit:
		return nil, judgeErr.NewAdapterFaultError(reason, errors.New(sanitizeError(stderr.String())))
	}

	report, err := parseReport(stdout.String())
	if err != nil {
		// 进程崩溃且没有结果输出
		if class == exitCrash {
			return nil, judgeErr.NewAdapterFaultError(
				"评测进程异常退出: "+reason, errors.New(sanitizeError(stderr.String())))
		}
		return nil, judgeErr.NewAdapterFaultError("评测脚本输出格式错误", err)
	}
	if report.Error != "" {
		return nil, judgeErr.NewAdapterFaultError("评测脚本报告错误", errors.New(sanitizeError(report.Error)))
	}

	elapsed := wall
	if report.ElapsedMS != nil {
		elapsed = time.Duration(*report.ElapsedMS * float64(time.Millisecond))
	}
	if spec.Kind == model.TrialPerformance && report.Passed && (report.ElapsedMS == nil || elapsed <= 0) {
		return nil, judgeErr.NewAdapterFaultError("性能试验没有给出有效耗时", nil)
	}

	detail := report.Detail
	if detail == "" && !report.Passed {
		detail = truncateOutput(stderr.String(), constants.MaxErrorSize)
	}

	return &model.TrialResult{
		Kind:      spec.Kind,
		Index:     spec.Index,
		Passed:    report.Passed,
		Elapsed:   elapsed,
		Detail:    sanitizeError(detail),
		StartedAt: startedAt,
	}, nil
}
