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

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityflow/cityflowctl/internal/config"
	"github.com/cityflow/cityflowctl/internal/process"
	"github.com/cityflow/cityflowctl/internal/store"
)

// fakeStarter records launches instead of spawning processes
// fakeStarter 记录启动而不真正派生进程
type fakeStarter struct {
	started []string
	err     error
}

func (f *fakeStarter) Start(ctx context.Context, svc *config.ServiceConfig) (*process.StartResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, svc.Name)
	return &process.StartResult{PID: 4000 + len(f.started), LogPath: "logs/" + svc.LogFile}, nil
}

func (f *fakeStarter) LaunchEnv() []string { return []string{"PATH=/usr/bin"} }

func (f *fakeStarter) ResolveCommand(name string) string { return name }

// fakeWaiter answers reachability waits with a fixed error
// fakeWaiter 以固定错误响应可达性等待
type fakeWaiter struct {
	err  error
	urls []string
}

func (f *fakeWaiter) WaitReachable(ctx context.Context, url string) error {
	f.urls = append(f.urls, url)
	return f.err
}

// fakeStore scripts ping and count results
// fakeStore 按脚本返回 ping 和计数结果
type fakeStore struct {
	pingErr  error
	report   *store.VerificationReport
	countErr error
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) CountForDate(ctx context.Context, date string) (*store.VerificationReport, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	return f.report, nil
}

// fakeResolver returns a fixed host
// fakeResolver 返回固定主机
type fakeResolver struct{ host string }

func (f *fakeResolver) PublicHost(ctx context.Context) string { return f.host }

// scriptedPrompter answers prompts from a fixed list
// scriptedPrompter 按固定列表回答提示
type scriptedPrompter struct {
	answers []bool
	asked   []string
}

func (p *scriptedPrompter) Confirm(question string) bool {
	p.asked = append(p.asked, question)
	if len(p.answers) == 0 {
		return false
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer
}

func pipelineConfig() *config.Config {
	return &config.Config{
		Services: config.ServicesConfig{
			API: config.ServiceConfig{
				Name: "api", Pattern: "api.main", Port: 8000,
				HealthPath: "/health", LogFile: "api.log",
				Command: []string{"python", "-m", "api.main"},
			},
			Dashboard: config.ServiceConfig{
				Name: "dashboard", Pattern: "streamlit run", Port: 8501,
				HealthPath: "/_stcore/health", LogFile: "dashboard.log",
				Command: []string{"streamlit", "run", "streamlit_app/app.py"},
			},
		},
		Pipeline: config.PipelineConfig{
			ProcessingCommand: []string{"python", "-m", "processors.main"},
		},
	}
}

// testRunner wires a Runner entirely from fakes
// testRunner 完全用仿制组件装配 Runner
func testRunner(cfg *config.Config, st StoreClient, prompter Prompter) (*Runner, *fakeStarter, *fakeWaiter, *bytes.Buffer) {
	starter := &fakeStarter{}
	waiter := &fakeWaiter{}
	out := &bytes.Buffer{}
	r := NewRunner(cfg, starter, waiter, st, &fakeResolver{host: "203.0.113.10"}, prompter, nil, out)
	r.runCommand = func(ctx context.Context, argv []string, env []string) error { return nil }
	r.lookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	return r, starter, waiter, out
}

// TestResolveDate tests date resolution priority
// TestResolveDate 测试日期解析优先级
func TestResolveDate(t *testing.T) {
	assert.Equal(t, "2026-08-29", ResolveDate("2026-08-29"))

	t.Setenv("PROCESSING_DATE", "2026-01-15")
	assert.Equal(t, "2026-01-15", ResolveDate(""))

	t.Setenv("PROCESSING_DATE", "")
	assert.Equal(t, time.Now().Format("2006-01-02"), ResolveDate(""))
}

// TestRunSuccess tests a clean end-to-end run
// TestRunSuccess 测试一次顺利的端到端运行
func TestRunSuccess(t *testing.T) {
	st := &fakeStore{report: &store.VerificationReport{
		Date:   "2026-08-30",
		Counts: []store.CollectionCount{{Collection: "cityflow-metrics-flux", Count: 5}},
		Total:  5,
	}}
	prompter := &scriptedPrompter{}
	cfg := pipelineConfig()
	cfg.Services.API.URLPath = "/docs"
	r, starter, waiter, out := testRunner(cfg, st, prompter)

	var ranArgv []string
	r.runCommand = func(ctx context.Context, argv []string, env []string) error {
		ranArgv = argv
		return nil
	}

	err := r.Run(context.Background(), "2026-08-30")
	require.NoError(t, err)

	// The date is appended to the processing command
	// 日期被追加到处理命令
	assert.Equal(t, []string{"python", "-m", "processors.main", "2026-08-30"}, ranArgv)

	// Both services launch in order and are waited on
	// 两个服务按顺序启动并等待
	assert.Equal(t, []string{"api", "dashboard"}, starter.started)
	assert.Equal(t, []string{
		"http://localhost:8000/health",
		"http://localhost:8501/_stcore/health",
	}, waiter.urls)

	// No prompt on a clean run / 顺利运行时不提示
	assert.Empty(t, prompter.asked)

	// Access URLs use the resolved public host and the URL path
	// 访问 URL 使用解析出的公网主机和 URL 路径
	assert.Contains(t, out.String(), "http://203.0.113.10:8000/docs")
	assert.Contains(t, out.String(), "http://203.0.113.10:8501")
}

// TestRunJobFailureDeclined tests that declining the prompt aborts the run
// with nothing launched.
// TestRunJobFailureDeclined 测试拒绝提示时中止运行且不启动任何服务。
func TestRunJobFailureDeclined(t *testing.T) {
	prompter := &scriptedPrompter{answers: []bool{false}}
	r, starter, _, _ := testRunner(pipelineConfig(), &fakeStore{report: &store.VerificationReport{}}, prompter)
	r.runCommand = func(ctx context.Context, argv []string, env []string) error {
		return errors.New("exit status 1")
	}

	err := r.Run(context.Background(), "2026-08-30")
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, starter.started)
	require.Len(t, prompter.asked, 1)
	assert.Contains(t, prompter.asked[0], "Processing job failed")
}

// TestRunJobFailureAccepted tests that accepting the prompt continues the run
// TestRunJobFailureAccepted 测试接受提示后继续运行
func TestRunJobFailureAccepted(t *testing.T) {
	prompter := &scriptedPrompter{answers: []bool{true}}
	r, starter, _, _ := testRunner(pipelineConfig(), &fakeStore{report: &store.VerificationReport{}}, prompter)
	r.runCommand = func(ctx context.Context, argv []string, env []string) error {
		if len(argv) > 0 && argv[0] == "python" {
			return errors.New("exit status 1")
		}
		return nil
	}

	err := r.Run(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "dashboard"}, starter.started)
}

// TestRunStoreGateDeclined tests the store gate before the processing job
// TestRunStoreGateDeclined 测试处理作业之前的存储门槛
func TestRunStoreGateDeclined(t *testing.T) {
	prompter := &scriptedPrompter{answers: []bool{false}}
	r, starter, _, _ := testRunner(pipelineConfig(),
		&fakeStore{pingErr: errors.New("connection refused")}, prompter)

	jobRan := false
	r.runCommand = func(ctx context.Context, argv []string, env []string) error {
		jobRan = true
		return nil
	}

	err := r.Run(context.Background(), "2026-08-30")
	assert.ErrorIs(t, err, ErrAborted)
	assert.False(t, jobRan, "processing job must not run after a declined store gate")
	assert.Empty(t, starter.started)
}

// TestRunStoreGateAccepted tests continuing past an unreachable store
// TestRunStoreGateAccepted 测试越过不可达存储继续运行
func TestRunStoreGateAccepted(t *testing.T) {
	prompter := &scriptedPrompter{answers: []bool{true}}
	st := &fakeStore{
		pingErr:  errors.New("connection refused"),
		countErr: errors.New("connection refused"),
	}
	r, starter, _, _ := testRunner(pipelineConfig(), st, prompter)

	// Verification failure stays non-fatal / 验证失败保持非致命
	err := r.Run(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "dashboard"}, starter.started)
}

// TestRunWithoutStore tests that a missing store skips gate and verification
// TestRunWithoutStore 测试缺失存储时跳过门槛和验证
func TestRunWithoutStore(t *testing.T) {
	prompter := &scriptedPrompter{}
	r, starter, _, out := testRunner(pipelineConfig(), nil, prompter)

	err := r.Run(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "dashboard"}, starter.started)
	assert.Empty(t, prompter.asked)
	assert.Contains(t, out.String(), "store not configured")
}

// TestRunNoDocumentsWarns tests the empty-result warning
// TestRunNoDocumentsWarns 测试空结果警告
func TestRunNoDocumentsWarns(t *testing.T) {
	st := &fakeStore{report: &store.VerificationReport{Date: "2026-08-30"}}
	r, _, _, out := testRunner(pipelineConfig(), st, &scriptedPrompter{})

	err := r.Run(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "no documents found for 2026-08-30")
}

// TestRunLaunchFailure tests that a failed launch fails the run
// TestRunLaunchFailure 测试启动失败导致运行失败
func TestRunLaunchFailure(t *testing.T) {
	r, starter, _, _ := testRunner(pipelineConfig(), nil, &scriptedPrompter{})
	starter.err = errors.New("no such binary")

	err := r.Run(context.Background(), "2026-08-30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch api")
}

// TestRunUnreachableServiceIsNotFatal tests that a service missing its
// health budget does not fail the pipeline.
// TestRunUnreachableServiceIsNotFatal 测试服务未在健康预算内就绪不会使流水线失败。
func TestRunUnreachableServiceIsNotFatal(t *testing.T) {
	r, starter, waiter, out := testRunner(pipelineConfig(), nil, &scriptedPrompter{})
	waiter.err = errors.New("not reachable after 5 attempts")

	err := r.Run(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "dashboard"}, starter.started)
	assert.Contains(t, out.String(), "not answering health checks yet")
}

// TestRunNoProcessingCommand tests rejection of an unconfigured job
// TestRunNoProcessingCommand 测试拒绝未配置的作业
func TestRunNoProcessingCommand(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Pipeline.ProcessingCommand = nil
	r, _, _, _ := testRunner(cfg, nil, &scriptedPrompter{})

	err := r.Run(context.Background(), "2026-08-30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no processing command")
}

// TestCheckRequirementsInstalls tests the best-effort install path
// TestCheckRequirementsInstalls 测试尽力安装路径
func TestCheckRequirementsInstalls(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Pipeline.Requirements = []config.RequirementConfig{
		{Tool: "python", Install: []string{"apt-get", "install", "-y", "python3"}},
		{Tool: "streamlit", Install: []string{"pip", "install", "streamlit"}},
	}
	r, _, _, out := testRunner(cfg, nil, &scriptedPrompter{})

	var installs [][]string
	r.lookPath = func(file string) (string, error) {
		if file == "python" {
			return "/usr/bin/python", nil
		}
		return "", errors.New("not found")
	}
	r.runCommand = func(ctx context.Context, argv []string, env []string) error {
		installs = append(installs, argv)
		return nil
	}

	r.checkRequirements(context.Background())

	require.Len(t, installs, 1)
	assert.Equal(t, []string{"pip", "install", "streamlit"}, installs[0])
	assert.Contains(t, out.String(), "python: ok")
	assert.Contains(t, out.String(), "streamlit: missing, installing")
}

// TestStdinPrompter tests answer parsing with default deny
// TestStdinPrompter 测试默认拒绝的回答解析
func TestStdinPrompter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"lowercase y", "y\n", true},
		{"yes", "yes\n", true},
		{"uppercase", "YES\n", true},
		{"padded", "  y  \n", true},
		{"no", "n\n", false},
		{"empty line is deny", "\n", false},
		{"eof is deny", "", false},
		{"anything else is deny", "sure\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			p := &StdinPrompter{In: strings.NewReader(tt.input), Out: out}
			assert.Equal(t, tt.want, p.Confirm("Continue?"))
			assert.Contains(t, out.String(), "[y/N]")
		})
	}
}

// TestAutoApprove tests the --yes prompter
// TestAutoApprove 测试 --yes 提示器
func TestAutoApprove(t *testing.T) {
	assert.True(t, AutoApprove{}.Confirm("anything"))
}
