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

// Package pipeline orchestrates a full processing run: requirements, store
// gate, the processing job, result verification and service launch.
// pipeline 包编排一次完整的处理运行：依赖项、存储门槛、处理作业、
// 结果验证和服务启动。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cityflow/cityflowctl/internal/config"
	"github.com/cityflow/cityflowctl/internal/process"
	"github.com/cityflow/cityflowctl/internal/store"
)

// ErrAborted is returned when the operator declines to continue
// ErrAborted 在操作员拒绝继续时返回
var ErrAborted = errors.New("pipeline aborted by operator / 操作员中止了流水线")

// processingDateEnv overrides the date when no argument is given
// processingDateEnv 在未提供参数时覆盖日期
const processingDateEnv = "PROCESSING_DATE"

// ResolveDate picks the processing date: explicit argument, then the
// PROCESSING_DATE environment variable, then today (YYYY-MM-DD).
// ResolveDate 选择处理日期：显式参数，其次 PROCESSING_DATE 环境变量，
// 最后是今天（YYYY-MM-DD）。
func ResolveDate(arg string) string {
	if arg != "" {
		return arg
	}
	if env := os.Getenv(processingDateEnv); env != "" {
		return env
	}
	return time.Now().Format("2006-01-02")
}

// StoreClient is the slice of the metrics store the pipeline needs
// StoreClient 是流水线所需的指标存储接口
type StoreClient interface {
	Ping(ctx context.Context) error
	CountForDate(ctx context.Context, date string) (*store.VerificationReport, error)
}

// Starter launches a managed service detached
// Starter 以分离方式启动托管服务
type Starter interface {
	Start(ctx context.Context, svc *config.ServiceConfig) (*process.StartResult, error)
	LaunchEnv() []string
	ResolveCommand(name string) string
}

// Waiter blocks until a health URL answers or the retry budget is spent
// Waiter 阻塞直到健康 URL 应答或重试预算耗尽
type Waiter interface {
	WaitReachable(ctx context.Context, url string) error
}

// HostResolver yields the externally visible host for access URLs
// HostResolver 返回用于访问 URL 的对外可见主机
type HostResolver interface {
	PublicHost(ctx context.Context) string
}

// Runner drives one pipeline run end to end
// Runner 端到端驱动一次流水线运行
type Runner struct {
	cfg      *config.Config
	manager  Starter
	waiter   Waiter
	store    StoreClient
	resolver HostResolver
	prompter Prompter
	logger   *zap.Logger
	out      io.Writer

	// Replaceable for testing / 测试时可替换
	runCommand func(ctx context.Context, argv []string, env []string) error
	lookPath   func(file string) (string, error)
}

// NewRunner creates a pipeline runner. store may be nil when the metrics
// store is not configured; verification is then skipped.
// NewRunner 创建流水线运行器。未配置指标存储时 store 可为 nil，
// 此时跳过验证。
func NewRunner(cfg *config.Config, manager Starter, waiter Waiter, st StoreClient,
	resolver HostResolver, prompter Prompter, logger *zap.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		cfg:        cfg,
		manager:    manager,
		waiter:     waiter,
		store:      st,
		resolver:   resolver,
		prompter:   prompter,
		logger:     logger,
		out:        out,
		runCommand: runForeground,
		lookPath:   exec.LookPath,
	}
}

// Run executes the full pipeline for date
// Run 为 date 执行完整流水线
func (r *Runner) Run(ctx context.Context, date string) error {
	runID := uuid.NewString()[:8]
	r.logger.Info("pipeline run starting",
		zap.String("run_id", runID), zap.String("date", date))

	fmt.Fprintln(r.out, "========================================")
	fmt.Fprintln(r.out, "  CityFlow Pipeline Starting...")
	fmt.Fprintln(r.out, "  CityFlow 流水线正在启动...")
	fmt.Fprintln(r.out, "========================================")
	fmt.Fprintf(r.out, "Run ID: %s, Date: %s\n", runID, date)

	fmt.Fprintln(r.out, "[1/5] Checking requirements... / 检查依赖项...")
	r.checkRequirements(ctx)

	fmt.Fprintln(r.out, "[2/5] Checking metrics store... / 检查指标存储...")
	if err := r.storeGate(ctx); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "[3/5] Running processing job... / 运行处理作业...")
	if err := r.runProcessing(ctx, date); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "[4/5] Verifying results... / 验证结果...")
	r.verify(ctx, date)

	fmt.Fprintln(r.out, "[5/5] Launching services... / 启动服务...")
	if err := r.launchServices(ctx); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "========================================")
	fmt.Fprintln(r.out, "  Pipeline completed!")
	fmt.Fprintln(r.out, "  流水线已完成！")
	fmt.Fprintln(r.out, "========================================")
	r.printAccessURLs(ctx)

	r.logger.Info("pipeline run finished", zap.String("run_id", runID))
	return nil
}

// checkRequirements verifies each required tool and attempts a best-effort
// install for missing ones. A tool that stays missing is only a warning;
// the processing job itself will surface the hard failure.
// checkRequirements 验证每个所需工具，对缺失的工具尽力安装。
// 仍缺失的工具仅告警；处理作业本身会暴露硬性失败。
func (r *Runner) checkRequirements(ctx context.Context) {
	for _, req := range r.cfg.Pipeline.Requirements {
		if r.toolPresent(req.Tool) {
			fmt.Fprintf(r.out, "  %s: ok / 正常\n", req.Tool)
			continue
		}

		if len(req.Install) == 0 {
			fmt.Fprintf(r.out, "  %s: missing / 缺失\n", req.Tool)
			continue
		}

		fmt.Fprintf(r.out, "  %s: missing, installing... / 缺失，正在安装...\n", req.Tool)
		argv := append([]string{}, req.Install...)
		argv[0] = r.manager.ResolveCommand(argv[0])
		if err := r.runCommand(ctx, argv, r.manager.LaunchEnv()); err != nil {
			r.logger.Warn("requirement install failed",
				zap.String("tool", req.Tool), zap.Error(err))
			fmt.Fprintf(r.out, "  %s: install failed: %v / 安装失败：%v\n", req.Tool, err, err)
		}
	}
}

// toolPresent looks for a tool on PATH and in the virtual environment
// toolPresent 在 PATH 和虚拟环境中查找工具
func (r *Runner) toolPresent(tool string) bool {
	if _, err := r.lookPath(tool); err == nil {
		return true
	}
	if venv := r.cfg.Controller.VenvDir; venv != "" {
		if _, err := os.Stat(filepath.Join(venv, "bin", tool)); err == nil {
			return true
		}
	}
	return false
}

// storeGate pings the store and asks whether to continue when unreachable
// storeGate ping 存储，不可达时询问是否继续
func (r *Runner) storeGate(ctx context.Context) error {
	if r.store == nil {
		fmt.Fprintln(r.out, "  store not configured, skipping / 未配置存储，跳过")
		return nil
	}

	err := r.store.Ping(ctx)
	if err == nil {
		fmt.Fprintln(r.out, "  store reachable / 存储可达")
		return nil
	}

	r.logger.Warn("metrics store unreachable", zap.Error(err))
	fmt.Fprintf(r.out, "  store unreachable: %v / 存储不可达：%v\n", err, err)
	if !r.prompter.Confirm("Metrics store is unreachable. Continue anyway? / 指标存储不可达。仍然继续？") {
		return ErrAborted
	}
	return nil
}

// runProcessing runs the external processing job in the foreground with the
// target date appended. On failure the operator decides whether the run
// continues; declining aborts the whole pipeline.
// runProcessing 在前台运行外部处理作业，并追加目标日期。失败时由操作员
// 决定是否继续；拒绝则中止整个流水线。
func (r *Runner) runProcessing(ctx context.Context, date string) error {
	if len(r.cfg.Pipeline.ProcessingCommand) == 0 {
		return fmt.Errorf("no processing command configured / 未配置处理命令")
	}

	argv := append(append([]string{}, r.cfg.Pipeline.ProcessingCommand...), date)
	argv[0] = r.manager.ResolveCommand(argv[0])
	r.logger.Info("running processing job", zap.Strings("argv", argv))

	err := r.runCommand(ctx, argv, r.manager.LaunchEnv())
	if err == nil {
		fmt.Fprintln(r.out, "  processing job succeeded / 处理作业成功")
		return nil
	}

	r.logger.Error("processing job failed", zap.Error(err))
	fmt.Fprintf(r.out, "  processing job failed: %v / 处理作业失败：%v\n", err, err)
	if !r.prompter.Confirm("Processing job failed. Continue with service launch? / 处理作业失败。仍然启动服务？") {
		return ErrAborted
	}
	return nil
}

// verify counts stored documents for the date; problems here never stop
// the run, launch availability matters more than a perfect count.
// verify 统计该日期的存储文档；此处的问题不会停止运行，
// 启动可用性比完美的计数更重要。
func (r *Runner) verify(ctx context.Context, date string) {
	if r.store == nil {
		fmt.Fprintln(r.out, "  store not configured, skipping / 未配置存储，跳过")
		return
	}

	report, err := r.store.CountForDate(ctx, date)
	if err != nil {
		r.logger.Warn("result verification failed", zap.Error(err))
		fmt.Fprintf(r.out, "  verification failed: %v / 验证失败：%v\n", err, err)
		return
	}

	for _, c := range report.Counts {
		fmt.Fprintf(r.out, "  %s: %d documents / 个文档\n", c.Collection, c.Count)
	}
	if !report.Passed() {
		fmt.Fprintf(r.out, "  WARNING: no documents found for %s / 警告：未找到 %s 的文档\n", date, date)
	}
}

// launchServices starts both services and waits for each to answer its
// health URL within the retry budget.
// launchServices 启动两个服务，并等待各自的健康 URL 在重试预算内应答。
func (r *Runner) launchServices(ctx context.Context) error {
	for _, svc := range r.cfg.AllServices() {
		result, err := r.manager.Start(ctx, svc)
		if err != nil {
			return fmt.Errorf("failed to launch %s: %w / 启动 %s 失败：%w", svc.Name, err, svc.Name, err)
		}
		fmt.Fprintf(r.out, "  %s launched, PID %d, log %s\n", svc.Name, result.PID, result.LogPath)

		if err := r.waiter.WaitReachable(ctx, svc.HealthURL()); err != nil {
			r.logger.Warn("service not reachable after launch",
				zap.String("service", svc.Name), zap.Error(err))
			fmt.Fprintf(r.out, "  %s not answering health checks yet: %v / %s 尚未响应健康检查：%v\n",
				svc.Name, err, svc.Name, err)
			continue
		}
		fmt.Fprintf(r.out, "  %s reachable / %s 可达\n", svc.Name, svc.Name)
	}
	return nil
}

// printAccessURLs prints the externally visible service URLs
// printAccessURLs 打印对外可见的服务 URL
func (r *Runner) printAccessURLs(ctx context.Context) {
	host := "localhost"
	if r.resolver != nil {
		host = r.resolver.PublicHost(ctx)
	}
	for _, svc := range r.cfg.AllServices() {
		fmt.Fprintf(r.out, "%s: %s\n", svc.Name, svc.AccessURL(host))
	}
}

// runForeground runs argv attached to the controller's own streams
// runForeground 运行 argv 并连接到控制器自身的输入输出流
func runForeground(ctx context.Context, argv []string, env []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env
	return cmd.Run()
}
