/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package process provides CityFlow service lifecycle management.
// process 包提供 CityFlow 服务生命周期管理功能。
//
// This package provides:
// 此包提供：
// - Stop by command-line pattern / 按命令行模式停止
// - Detached background launch / 分离式后台启动
// - Liveness checking via signal 0 / 通过信号 0 检查存活
// - Status reporting combined with a health probe / 结合健康探测的状态上报
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cityflow/cityflowctl/internal/config"
	"github.com/cityflow/cityflowctl/internal/scanner"
)

// Common errors for lifecycle management
// 生命周期管理的常见错误
var (
	// ErrLaunchFailed indicates the service process failed to launch
	// ErrLaunchFailed 表示服务进程启动失败
	ErrLaunchFailed = errors.New("service failed to launch")

	// ErrEmptyCommand indicates the service has no launch command configured
	// ErrEmptyCommand 表示服务未配置启动命令
	ErrEmptyCommand = errors.New("service launch command is empty")
)

// ServiceState is the observed state of a managed service
// ServiceState 是托管服务的观测状态
type ServiceState string

const (
	// StateAbsent indicates no process matched the service pattern
	// StateAbsent 表示没有进程匹配服务模式
	StateAbsent ServiceState = "absent"

	// StateUnreachable indicates a process exists but the port does not answer
	// StateUnreachable 表示进程存在但端口无响应
	StateUnreachable ServiceState = "unreachable"

	// StateReachable indicates a process exists and the health endpoint answers
	// StateReachable 表示进程存在且健康端点有响应
	StateReachable ServiceState = "reachable"
)

// Scanner locates processes by command-line pattern
// Scanner 按命令行模式定位进程
type Scanner interface {
	FindProcesses(pattern string) ([]*scanner.MatchedProcess, error)
}

// Prober issues a single readiness probe against a URL
// Prober 对 URL 发起单次就绪探测
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// StopOutcome reports the result of a Stop operation.
// "No matching process" and "signal delivery failure" are deliberately
// separated instead of reusing one negative branch.
// StopOutcome 上报 Stop 操作的结果。
// "无匹配进程"和"信号发送失败"被有意区分，而不是复用一个否定分支。
type StopOutcome struct {
	// Pattern is the matched command-line substring / 匹配的命令行子串
	Pattern string

	// Found indicates at least one process matched / 表示至少有一个进程匹配
	Found bool

	// Signalled lists PIDs that received the termination signal
	// Signalled 列出收到终止信号的 PID
	Signalled []int

	// SignalErrors maps PIDs to signal delivery failures (e.g. permissions)
	// SignalErrors 将 PID 映射到信号发送失败（如权限问题）
	SignalErrors map[int]error

	// Survivors lists PIDs still alive after the bounded wait.
	// Forced kill is never automatic; it is only suggested to the operator.
	// Survivors 列出有界等待后仍存活的 PID。
	// 强制终止从不自动执行，只向操作员建议。
	Survivors []int
}

// KillHint returns the suggested manual command for surviving processes
// KillHint 返回针对幸存进程的建议手动命令
func (o *StopOutcome) KillHint() string {
	if len(o.Survivors) == 0 {
		return ""
	}

	pids := make([]string, len(o.Survivors))
	for i, pid := range o.Survivors {
		pids[i] = strconv.Itoa(pid)
	}
	return "kill -9 " + strings.Join(pids, " ")
}

// StartResult reports a successful detached launch
// StartResult 上报一次成功的分离式启动
type StartResult struct {
	// PID is the launched process ID, captured for display only
	// PID 是启动的进程 ID，仅用于显示
	PID int

	// LogPath is the log file receiving the service output ("" = discarded)
	// LogPath 是接收服务输出的日志文件（"" 表示丢弃）
	LogPath string

	// Replaced reports whether a previous instance was stopped first
	// Replaced 报告是否先停止了先前的实例
	Replaced bool
}

// StatusInfo reports the observed state of one service
// StatusInfo 上报一个服务的观测状态
type StatusInfo struct {
	Service string       `json:"service"`
	State   ServiceState `json:"state"`
	PIDs    []int        `json:"pids,omitempty"`
	URL     string       `json:"url,omitempty"`
}

// Manager performs the lifecycle operations for the managed services
// Manager 为托管服务执行生命周期操作
type Manager struct {
	cfg     *config.ControllerConfig
	scanner Scanner
	logger  *zap.Logger

	// sendSignal and alive are replaceable for tests
	// sendSignal 和 alive 可在测试中替换
	sendSignal func(pid int, sig syscall.Signal) error
	alive      func(pid int) bool

	// sleep is replaceable so tests do not wait out real settle delays
	// sleep 可替换，使测试无需等待真实的稳定延迟
	sleep func(ctx context.Context, d time.Duration)
}

// NewManager creates a new lifecycle Manager
// NewManager 创建一个新的生命周期 Manager
func NewManager(cfg *config.ControllerConfig, sc Scanner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		scanner:    sc,
		logger:     logger,
		sendSignal: sendSignal,
		alive:      isProcessAlive,
		sleep:      sleepCtx,
	}
}

// Stop sends a termination signal to every process matching pattern.
// A missing process is an informational outcome, never an error.
// Stop 向匹配 pattern 的每个进程发送终止信号。
// 进程不存在是信息性结果，从不是错误。
func (m *Manager) Stop(ctx context.Context, pattern string) (*StopOutcome, error) {
	outcome := &StopOutcome{
		Pattern:      pattern,
		SignalErrors: make(map[int]error),
	}

	procs, err := m.scanner.FindProcesses(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for %q: %w / 扫描 %q 失败：%w", pattern, err, pattern, err)
	}

	if len(procs) == 0 {
		m.logger.Info("no process found", zap.String("pattern", pattern))
		return outcome, nil
	}

	outcome.Found = true

	// Send SIGTERM to all matches; delivery failures are kept per PID
	// 向所有匹配进程发送 SIGTERM；发送失败按 PID 保留
	for _, proc := range procs {
		if err := m.sendSignal(proc.PID, syscall.SIGTERM); err != nil {
			outcome.SignalErrors[proc.PID] = err
			m.logger.Warn("signal delivery failed",
				zap.String("pattern", pattern), zap.Int("pid", proc.PID), zap.Error(err))
			continue
		}
		outcome.Signalled = append(outcome.Signalled, proc.PID)
		m.logger.Info("sent SIGTERM", zap.String("pattern", pattern), zap.Int("pid", proc.PID))
	}

	// Wait for signalled processes to exit, bounded by StopTimeout
	// 等待已发信号的进程退出，受 StopTimeout 限制
	deadline := time.Now().Add(m.cfg.StopTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		allDead := true
		for _, pid := range outcome.Signalled {
			if m.alive(pid) {
				allDead = false
				break
			}
		}
		if allDead {
			break
		}
		m.sleep(ctx, 500*time.Millisecond)
	}

	// Report survivors; escalation is left to the operator
	// 上报幸存进程；升级处理留给操作员
	for _, pid := range outcome.Signalled {
		if m.alive(pid) {
			outcome.Survivors = append(outcome.Survivors, pid)
		}
	}
	if len(outcome.Survivors) > 0 {
		m.logger.Warn("processes still alive after stop",
			zap.String("pattern", pattern), zap.Ints("pids", outcome.Survivors))
	}

	return outcome, nil
}

// Start stops any previous instance, waits a settle delay, then launches
// the service detached with output directed to its log sink.
// Start 先停止任何先前的实例，等待稳定延迟，然后以分离方式启动服务，
// 并将输出定向到其日志接收端。
func (m *Manager) Start(ctx context.Context, svc *config.ServiceConfig) (*StartResult, error) {
	if len(svc.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	// Best-effort stop of the previous instance; idempotent
	// 尽力停止先前的实例；幂等
	outcome, err := m.Stop(ctx, svc.Pattern)
	if err != nil {
		return nil, err
	}
	replaced := outcome.Found

	// Settle delay between stop and launch
	// 停止与启动之间的稳定延迟
	m.sleep(ctx, m.cfg.SettleDelay)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Prepare the log sink: truncate-on-start, written only by the subprocess
	// 准备日志接收端：启动时截断，仅由子进程写入
	logPath, logWriter, err := m.openLogSink(svc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	cmd := m.buildLaunchCommand(svc)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	if err := cmd.Start(); err != nil {
		if logWriter != nil {
			logWriter.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	pid := cmd.Process.Pid

	// The child holds its own handle; release ours and never wait
	// 子进程持有自己的句柄；释放我们的句柄且从不等待
	if logWriter != nil {
		logWriter.Close()
	}
	_ = cmd.Process.Release()

	m.logger.Info("service launched",
		zap.String("service", svc.Name), zap.Int("pid", pid),
		zap.String("log", logPath), zap.Bool("replaced", replaced))

	return &StartResult{PID: pid, LogPath: logPath, Replaced: replaced}, nil
}

// Status looks up a live process for the service and, only when one is
// found, additionally probes the health URL. The reachable-without-process
// combination is structurally impossible given the lookup order.
// Status 查找服务的存活进程，仅在找到时额外探测健康 URL。
// 由于查找顺序，"可达但无进程"的组合在结构上不可能出现。
func (m *Manager) Status(ctx context.Context, svc *config.ServiceConfig, prober Prober) (*StatusInfo, error) {
	info := &StatusInfo{Service: svc.Name, State: StateAbsent}

	procs, err := m.scanner.FindProcesses(svc.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for %q: %w / 扫描 %q 失败：%w", svc.Pattern, err, svc.Pattern, err)
	}

	if len(procs) == 0 {
		return info, nil
	}

	for _, proc := range procs {
		info.PIDs = append(info.PIDs, proc.PID)
	}

	info.URL = svc.HealthURL()
	if err := prober.Probe(ctx, info.URL); err != nil {
		info.State = StateUnreachable
		return info, nil
	}

	info.State = StateReachable
	return info, nil
}

// openLogSink prepares the service log file, or discards output when the
// service has no log file configured.
// openLogSink 准备服务日志文件，服务未配置日志文件时丢弃输出。
func (m *Manager) openLogSink(svc *config.ServiceConfig) (string, *os.File, error) {
	if svc.LogFile == "" {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return "", nil, err
		}
		return "", devNull, nil
	}

	if err := os.MkdirAll(m.cfg.LogDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create log directory: %w / 创建日志目录失败：%w", err, err)
	}

	logPath := filepath.Join(m.cfg.LogDir, svc.LogFile)
	logWriter, err := os.Create(logPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create log file: %w / 创建日志文件失败：%w", err, err)
	}

	return logPath, logWriter, nil
}

// buildLaunchCommand builds the detached launch command for a service
// buildLaunchCommand 构建服务的分离式启动命令
func (m *Manager) buildLaunchCommand(svc *config.ServiceConfig) *exec.Cmd {
	// Deliberately not CommandContext: the service must outlive the controller
	// 有意不使用 CommandContext：服务必须比控制器存活更久
	cmd := exec.Command(m.ResolveCommand(svc.Command[0]), svc.Command[1:]...)

	if m.cfg.WorkDir != "" {
		cmd.Dir = m.cfg.WorkDir
	}
	cmd.Env = m.LaunchEnv()

	// Own process group so the service survives controller exit and
	// terminal interrupts.
	// 独立进程组，使服务在控制器退出和终端中断后仍存活。
	setProcGroupAttr(cmd)

	return cmd
}

// venvPath returns the resolved virtual environment directory, or an
// empty string when none is configured or present on disk.
// venvPath 返回解析后的虚拟环境目录；未配置或磁盘上不存在时返回空字符串。
func (m *Manager) venvPath() string {
	venv := m.cfg.VenvDir
	if venv == "" {
		return ""
	}
	if m.cfg.WorkDir != "" && !filepath.IsAbs(venv) {
		venv = filepath.Join(m.cfg.WorkDir, venv)
	}
	if info, err := os.Stat(venv); err != nil || !info.IsDir() {
		// Optional: absence is silently ignored / 可选：不存在时静默忽略
		return ""
	}
	return venv
}

// ResolveCommand resolves a bare executable name against the virtual
// environment's bin directory, mirroring an activated venv where its
// binaries shadow the system ones. exec.Command resolves argv[0] with
// the parent's PATH before cmd.Env applies, so the venv lookup must
// happen here explicitly.
// ResolveCommand 将裸可执行文件名解析到虚拟环境的 bin 目录，
// 模拟激活后的 venv 中其二进制文件优先于系统文件的行为。
// exec.Command 在 cmd.Env 生效前用父进程的 PATH 解析 argv[0]，
// 因此必须在此显式查找 venv。
func (m *Manager) ResolveCommand(name string) string {
	venv := m.venvPath()
	if venv == "" || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	candidate := filepath.Join(venv, "bin", name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
		return candidate
	}
	return name
}

// LaunchEnv returns the environment for launched commands, applying the
// virtual environment directory when it exists on disk.
// LaunchEnv 返回启动命令的环境变量，虚拟环境目录存在时应用它。
func (m *Manager) LaunchEnv() []string {
	env := os.Environ()

	venv := m.venvPath()
	if venv == "" {
		return env
	}

	// getenv takes the first PATH entry, so rewrite it in place instead
	// of appending a duplicate.
	// getenv 取第一个 PATH 条目，因此就地改写而不是追加重复项。
	binDir := filepath.Join(venv, "bin")
	replaced := false
	for i, entry := range env {
		if strings.HasPrefix(entry, "PATH=") {
			env[i] = "PATH=" + binDir + string(os.PathListSeparator) + strings.TrimPrefix(entry, "PATH=")
			replaced = true
			break
		}
	}
	if !replaced {
		env = append(env, "PATH="+binDir)
	}
	env = append(env, "VIRTUAL_ENV="+venv)
	return env
}

// Helper functions / 辅助函数

// isProcessAlive checks if a process with the given PID is alive
// isProcessAlive 检查给定 PID 的进程是否存活
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so send signal 0 to check.
	// EPERM means the process exists but belongs to another user.
	// 在 Unix 上 FindProcess 总是成功，因此发送信号 0 检查。
	// EPERM 表示进程存在但属于其他用户。
	if runtime.GOOS != "windows" {
		err = process.Signal(syscall.Signal(0))
		return err == nil || errors.Is(err, syscall.EPERM)
	}

	return checkProcessWindows(pid)
}

// checkProcessWindows checks if a process is alive on Windows
// checkProcessWindows 在 Windows 上检查进程是否存活
func checkProcessWindows(pid int) bool {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/NH")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), strconv.Itoa(pid))
}

// sendSignal sends a signal to a process
// sendSignal 向进程发送信号
func sendSignal(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		// On Windows, we can only kill the process
		// 在 Windows 上，我们只能终止进程
		if sig == syscall.SIGKILL || sig == syscall.SIGTERM {
			return process.Kill()
		}
		return nil
	}

	return process.Signal(sig)
}

// sleepCtx sleeps for d or until ctx is cancelled
// sleepCtx 休眠 d 时长或直到 ctx 被取消
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
