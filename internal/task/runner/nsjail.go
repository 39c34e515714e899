package runner

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"kernel-leaderboard/internal/constants"
)

// NsJail NsJail 沙箱参数。GPU 设备节点需要通过 BindMounts 暴露给沙箱
type NsJail struct {
	Path         string
	MemLimitMB   int
	UID          int
	GID          int
	BindMounts   []string // 只读挂载
	RWBindMounts []string // 读写挂载
}

// Wrap 把 argv 包装为在 NsJail 中执行的命令行，workDir 以读写方式挂载并作为工作目录
func (nj *NsJail) Wrap(workDir string, timeout time.Duration, argv []string) []string {
	path := nj.Path
	if path == "" {
		path = constants.NsJailDefaultPath
	}
	uid, gid := nj.UID, nj.GID
	if uid == 0 {
		uid = constants.NsJailDefaultUID
	}
	if gid == 0 {
		gid = constants.NsJailDefaultGID
	}

	args := []string{
		path,
		"-Mo",
		"--hostname", constants.NsJailHostname,
		"--user", fmt.Sprintf("%d", uid),
		"--group", fmt.Sprintf("%d", gid),
		"--cwd", workDir,
		"--bindmount", workDir,
		"--keep_env",
		"--disable_clone_newuser",
	}
	if timeout > 0 {
		// 向上取整到秒，外层 context 仍然按精确时间控制
		secs := int((timeout + time.Second - 1) / time.Second)
		args = append(args, "--time_limit", fmt.Sprintf("%d", secs))
	}
	if nj.MemLimitMB > 0 {
		args = append(args, "--rlimit_as", fmt.Sprintf("%d", nj.MemLimitMB))
	}
	for _, m := range nj.BindMounts {
		args = append(args, "--bindmount_ro", m)
	}
	for _, m := range nj.RWBindMounts {
		args = append(args, "--bindmount", m)
	}
	args = append(args, "--")
	return append(args, argv...)
}

// Available 检查 nsjail 是否可执行
func (nj *NsJail) Available() error {
	path := nj.Path
	if path == "" {
		path = constants.NsJailDefaultPath
	}
	_, err := exec.LookPath(path)
	return err
}

// exitClass 进程退出分类
type exitClass int

const (
	exitOK exitClass = iota
	exitTimeLimit
	exitMemoryLimit
	exitCrash
)

// classifyExit 解析进程（或 NsJail）退出原因
func classifyExit(stderr string, err error) (exitClass, string) {
	if err == nil {
		return exitOK, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if waitStatus, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if waitStatus.Signaled() {
				signal := waitStatus.Signal()
				switch signal {
				case syscall.SIGXCPU:
					return exitTimeLimit, "CPU 时间超限"
				case syscall.SIGKILL:
					if strings.Contains(stderr, "memory limit exceeded") || strings.Contains(stderr, "rlimit_as") {
						return exitMemoryLimit, "内存超限"
					}
					return exitCrash, "进程被 SIGKILL 终止"
				default:
					return exitCrash, fmt.Sprintf("进程被信号终止: %v", signal)
				}
			}
		}
	}

	if strings.Contains(stderr, "time limit exceeded") || strings.Contains(stderr, "run time >= time limit") {
		return exitTimeLimit, "运行时间超限"
	}
	if strings.Contains(stderr, "memory limit exceeded") || strings.Contains(stderr, "rlimit_as exceeded") {
		return exitMemoryLimit, "内存超限"
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitCrash, fmt.Sprintf("退出码: %d", exitErr.ExitCode())
	}
	return exitCrash, err.Error()
}
