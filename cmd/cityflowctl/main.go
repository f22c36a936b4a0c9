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

// Package main is the entry point for the CityFlow controller CLI.
// main 包是 CityFlow 控制器 CLI 的入口点。
//
// cityflowctl manages the CityFlow analytics services on a host:
// cityflowctl 管理主机上的 CityFlow 分析服务：
// - Stop, start and restart the API and dashboard / 停止、启动和重启 API 与仪表盘
// - Report service status with health probes / 通过健康探测上报服务状态
// - Drive the full data-processing pipeline / 驱动完整的数据处理流水线
// - Verify stored metric documents / 验证存储的指标文档
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cityflow/cityflowctl/internal/config"
	"github.com/cityflow/cityflowctl/internal/health"
	"github.com/cityflow/cityflowctl/internal/logging"
	"github.com/cityflow/cityflowctl/internal/netinfo"
	"github.com/cityflow/cityflowctl/internal/pipeline"
	"github.com/cityflow/cityflowctl/internal/process"
	"github.com/cityflow/cityflowctl/internal/scanner"
	"github.com/cityflow/cityflowctl/internal/store"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

// assumeYes answers every pipeline prompt affirmatively
// assumeYes 对所有流水线提示回答是
var assumeYes bool

// verifyMetric limits verification to one named metric
// verifyMetric 将验证限制为一个命名指标
var verifyMetric string

// logLines is how many trailing log lines to print
// logLines 是要打印的日志末尾行数
var logLines int

// rootCmd is the root command for cityflowctl
// rootCmd 是 cityflowctl 的根命令
var rootCmd = &cobra.Command{
	Use:   "cityflowctl",
	Short: "CityFlow analytics service controller / CityFlow 分析服务控制器",
	Long: `cityflowctl controls the CityFlow analytics services on this host.
cityflowctl 控制本主机上的 CityFlow 分析服务。

- Stop and start the API and dashboard detached from the terminal / 以终端分离方式停止和启动 API 与仪表盘
- Probe service health and report status / 探测服务健康并上报状态
- Run the full data-processing pipeline for a date / 为某日期运行完整的数据处理流水线
- Verify the metric documents a run produced / 验证一次运行产出的指标文档`,
	SilenceUsage: true,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CityFlow Controller\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// startCmd launches one or both services
// startCmd 启动一个或两个服务
var startCmd = &cobra.Command{
	Use:       "start [api|dashboard]",
	Short:     "Start services detached, replacing running instances / 以分离方式启动服务，替换运行中的实例",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{config.ServiceAPI, config.ServiceDashboard},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			services, err := selectServices(app.cfg, args)
			if err != nil {
				return err
			}
			for _, svc := range services {
				if err := startService(ctx, app, svc); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

// stopCmd stops one or both services
// stopCmd 停止一个或两个服务
var stopCmd = &cobra.Command{
	Use:       "stop [api|dashboard]",
	Short:     "Stop services by command-line pattern / 按命令行模式停止服务",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{config.ServiceAPI, config.ServiceDashboard},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			services, err := selectServices(app.cfg, args)
			if err != nil {
				return err
			}
			for _, svc := range services {
				if err := stopService(ctx, app, svc); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

// restartCmd stops then starts one or both services
// restartCmd 先停止再启动一个或两个服务
var restartCmd = &cobra.Command{
	Use:       "restart [api|dashboard]",
	Short:     "Restart services / 重启服务",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{config.ServiceAPI, config.ServiceDashboard},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			services, err := selectServices(app.cfg, args)
			if err != nil {
				return err
			}
			// Start already replaces any running instance
			// Start 已会替换任何运行中的实例
			for _, svc := range services {
				if err := startService(ctx, app, svc); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

// statusCmd reports the observed state of both services
// statusCmd 上报两个服务的观测状态
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report process and health state of the services / 上报服务的进程与健康状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			host := app.resolver.PublicHost(ctx)
			for _, svc := range app.cfg.AllServices() {
				info, err := app.manager.Status(ctx, svc, app.prober)
				if err != nil {
					return err
				}
				printStatus(info, svc.AccessURL(host))
			}
			return nil
		})
	},
}

// pipelineCmd runs the full processing pipeline for a date
// pipelineCmd 为某日期运行完整的处理流水线
var pipelineCmd = &cobra.Command{
	Use:   "pipeline [date]",
	Short: "Run the full processing pipeline and launch the services / 运行完整处理流水线并启动服务",
	Long: `Runs the end-to-end pipeline for the given date (YYYY-MM-DD):
为给定日期（YYYY-MM-DD）运行端到端流水线：

requirements check, metrics store gate, processing job, result
verification and finally the detached launch of both services.
依赖项检查、指标存储门槛、处理作业、结果验证，最后以分离方式启动两个服务。

Without a date argument, PROCESSING_DATE or today is used.
未提供日期参数时使用 PROCESSING_DATE 或今天。`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			date := pipeline.ResolveDate(argOrEmpty(args))

			st, err := store.Connect(ctx, &app.cfg.Store, app.logger)
			var client pipeline.StoreClient
			if err != nil {
				fmt.Printf("store client unavailable: %v / 存储客户端不可用：%v\n", err, err)
			} else {
				client = st
				defer st.Close(context.Background())
			}

			var prompter pipeline.Prompter = &pipeline.StdinPrompter{In: os.Stdin, Out: os.Stdout}
			if assumeYes {
				prompter = pipeline.AutoApprove{}
			}

			runner := pipeline.NewRunner(app.cfg, app.manager, app.prober,
				client, app.resolver, prompter, app.logger, os.Stdout)
			return runner.Run(ctx, date)
		})
	},
}

// verifyCmd counts the stored documents for a date
// verifyCmd 统计某日期的存储文档
var verifyCmd = &cobra.Command{
	Use:   "verify [date]",
	Short: "Count stored metric documents for a date / 统计某日期的存储指标文档",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			date := pipeline.ResolveDate(argOrEmpty(args))

			st, err := store.Connect(ctx, &app.cfg.Store, app.logger)
			if err != nil {
				return err
			}
			defer st.Close(context.Background())

			if verifyMetric != "" {
				count, err := st.CountMetricForDate(ctx, date, verifyMetric)
				if err != nil {
					return err
				}
				fmt.Printf("%s on %s: %d documents / 个文档\n", verifyMetric, date, count)
				return nil
			}

			report, err := st.CountForDate(ctx, date)
			if err != nil {
				return err
			}
			for _, c := range report.Counts {
				fmt.Printf("%-36s %d\n", c.Collection, c.Count)
			}
			fmt.Printf("total documents for %s: %d / %s 的文档总数：%d\n",
				date, report.Total, date, report.Total)
			if !report.Passed() {
				return fmt.Errorf("no documents found for %s / 未找到 %s 的文档", date, date)
			}
			return nil
		})
	},
}

// logsCmd prints the tail of the service log files
// logsCmd 打印服务日志文件的末尾
var logsCmd = &cobra.Command{
	Use:       "logs [api|dashboard]",
	Short:     "Print the tail of the service logs / 打印服务日志的末尾",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{config.ServiceAPI, config.ServiceDashboard},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, app *controller) error {
			services, err := selectServices(app.cfg, args)
			if err != nil {
				return err
			}
			for _, svc := range services {
				if svc.LogFile == "" {
					fmt.Printf("==> %s: output is discarded / 输出被丢弃\n", svc.Name)
					continue
				}
				path := filepath.Join(app.cfg.Controller.LogDir, svc.LogFile)
				fmt.Printf("==> %s (%s) <==\n", svc.Name, path)
				if err := printTail(os.Stdout, path, logLines); err != nil {
					fmt.Printf("(no log yet: %v / 尚无日志：%v)\n", err, err)
				}
			}
			return nil
		})
	},
}

func init() {
	// Add flags to root command
	// 向根命令添加标志
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: "+config.DefaultConfigPath+")")
	pipelineCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false,
		"answer yes to all prompts / 对所有提示回答是")
	verifyCmd.Flags().StringVar(&verifyMetric, "metric", "",
		"verify a single metric by name / 按名称验证单个指标")
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 40,
		"number of trailing lines to print / 打印的末尾行数")

	// Add subcommands
	// 添加子命令
	rootCmd.AddCommand(versionCmd, startCmd, stopCmd, restartCmd,
		statusCmd, pipelineCmd, verifyCmd, logsCmd)
}

// controller bundles the components every command needs
// controller 捆绑每个命令所需的组件
type controller struct {
	cfg      *config.Config
	logger   *zap.Logger
	manager  *process.Manager
	prober   *health.HTTPProber
	resolver *netinfo.Resolver
}

// withController loads config, builds the components and runs fn with a
// signal-cancelled context.
// withController 加载配置、构建组件，并在信号可取消的上下文中运行 fn。
func withController(fn func(ctx context.Context, app *controller) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w / 加载配置失败：%w", err, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w / 无效配置：%w", err, err)
	}

	logger, err := logging.New(&cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &controller{
		cfg:      cfg,
		logger:   logger,
		manager:  process.NewManager(&cfg.Controller, scanner.NewProcessScanner(), logger),
		prober:   health.NewHTTPProber(&cfg.Probe, logger),
		resolver: netinfo.NewResolver(&cfg.Net),
	}
	return fn(ctx, app)
}

// selectServices resolves the optional service argument to config entries
// selectServices 将可选的服务参数解析为配置条目
func selectServices(cfg *config.Config, args []string) ([]*config.ServiceConfig, error) {
	if len(args) == 0 {
		return cfg.AllServices(), nil
	}
	svc, err := cfg.Service(args[0])
	if err != nil {
		return nil, err
	}
	return []*config.ServiceConfig{svc}, nil
}

// startService launches svc and waits for its health endpoint
// startService 启动 svc 并等待其健康端点
func startService(ctx context.Context, app *controller, svc *config.ServiceConfig) error {
	fmt.Printf("Starting %s... / 正在启动 %s...\n", svc.Name, svc.Name)

	result, err := app.manager.Start(ctx, svc)
	if err != nil {
		return err
	}
	if result.Replaced {
		fmt.Printf("  replaced a running instance / 替换了运行中的实例\n")
	}
	fmt.Printf("  PID %d, log %s\n", result.PID, result.LogPath)

	if err := app.prober.WaitReachable(ctx, svc.HealthURL()); err != nil {
		return fmt.Errorf("%s failed to become reachable: %w / %s 未能变为可达：%w",
			svc.Name, err, svc.Name, err)
	}
	fmt.Printf("  %s is reachable / %s 已可达\n", svc.Name, svc.Name)
	return nil
}

// stopService stops svc and reports what happened to each PID
// stopService 停止 svc 并报告每个 PID 的处理结果
func stopService(ctx context.Context, app *controller, svc *config.ServiceConfig) error {
	fmt.Printf("Stopping %s... / 正在停止 %s...\n", svc.Name, svc.Name)

	outcome, err := app.manager.Stop(ctx, svc.Pattern)
	if err != nil {
		return err
	}
	printStopOutcome(os.Stdout, outcome)
	return nil
}

// printStopOutcome renders a StopOutcome for the operator
// printStopOutcome 为操作员呈现 StopOutcome
func printStopOutcome(w io.Writer, outcome *process.StopOutcome) {
	if !outcome.Found {
		fmt.Fprintf(w, "  no matching process / 无匹配进程\n")
		return
	}
	if len(outcome.Signalled) > 0 {
		fmt.Fprintf(w, "  signalled PIDs: %s\n", joinPIDs(outcome.Signalled))
	}
	for pid, err := range outcome.SignalErrors {
		fmt.Fprintf(w, "  PID %d: signal failed: %v / 信号发送失败：%v\n", pid, err, err)
	}
	if len(outcome.Survivors) > 0 {
		fmt.Fprintf(w, "  still running: %s / 仍在运行：%s\n",
			joinPIDs(outcome.Survivors), joinPIDs(outcome.Survivors))
		fmt.Fprintf(w, "  force manually with: %s / 手动强制终止：%s\n",
			outcome.KillHint(), outcome.KillHint())
		return
	}
	fmt.Fprintf(w, "  stopped / 已停止\n")
}

// printStatus renders one service status line
// printStatus 呈现一行服务状态
func printStatus(info *process.StatusInfo, accessURL string) {
	switch info.State {
	case process.StateAbsent:
		fmt.Printf("%-10s absent / 未运行\n", info.Service)
	case process.StateUnreachable:
		fmt.Printf("%-10s running (PIDs %s) but unreachable / 运行中但不可达\n",
			info.Service, joinPIDs(info.PIDs))
	case process.StateReachable:
		fmt.Printf("%-10s running (PIDs %s), %s\n",
			info.Service, joinPIDs(info.PIDs), accessURL)
	}
}

// joinPIDs formats a PID list for display
// joinPIDs 格式化 PID 列表用于显示
func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = fmt.Sprintf("%d", pid)
	}
	return strings.Join(parts, ", ")
}

// printTail writes the last n lines of the file at path to w
// printTail 将 path 文件的最后 n 行写入 w
func printTail(w io.Writer, path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}

// argOrEmpty returns the first argument or ""
// argOrEmpty 返回第一个参数或 ""
func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
