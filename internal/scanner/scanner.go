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

// Package scanner provides process-table lookup by command-line pattern.
// scanner 包提供按命令行模式的进程表查找功能。
//
// A managed service is identified by a fixed substring of its invoked
// command line; no PID files are written or read.
// 托管服务通过其调用命令行的固定子串识别；不写入也不读取 PID 文件。
package scanner

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// MatchedProcess represents one process whose command line matched a pattern
// MatchedProcess 表示命令行匹配模式的一个进程
type MatchedProcess struct {
	PID     int    `json:"pid"`     // Process ID / 进程 ID
	Cmdline string `json:"cmdline"` // Full command line / 完整命令行
}

// ProcessScanner scans the local process table for pattern matches
// ProcessScanner 在本地进程表中扫描模式匹配
type ProcessScanner struct{}

// NewProcessScanner creates a new ProcessScanner instance
// NewProcessScanner 创建一个新的 ProcessScanner 实例
func NewProcessScanner() *ProcessScanner {
	return &ProcessScanner{}
}

// FindProcesses returns every running process whose command line contains pattern.
// An empty result is not an error; the scanning process itself is excluded.
// FindProcesses 返回命令行包含 pattern 的所有运行进程。
// 空结果不是错误；扫描进程自身被排除。
func (s *ProcessScanner) FindProcesses(pattern string) ([]*MatchedProcess, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern is empty / 模式为空")
	}

	if runtime.GOOS == "windows" {
		return s.findProcessesWindows(pattern)
	}
	return s.findProcessesUnix(pattern)
}

// FindPIDs returns only the PIDs of matching processes
// FindPIDs 只返回匹配进程的 PID
func (s *ProcessScanner) FindPIDs(pattern string) ([]int, error) {
	procs, err := s.FindProcesses(pattern)
	if err != nil {
		return nil, err
	}

	pids := make([]int, 0, len(procs))
	for _, proc := range procs {
		pids = append(pids, proc.PID)
	}
	return pids, nil
}

// findProcessesUnix scans processes on Unix/Linux
// findProcessesUnix 在 Unix/Linux 上扫描进程
func (s *ProcessScanner) findProcessesUnix(pattern string) ([]*MatchedProcess, error) {
	// Prefer pgrep with full command-line matching
	// 优先使用 pgrep 进行完整命令行匹配
	cmd := exec.Command("pgrep", "-f", "-a", pattern)
	output, err := cmd.Output()
	if err != nil {
		// pgrep exits 1 when nothing matches; that is the "not found" branch
		// pgrep 在无匹配时退出码为 1；这是"未找到"分支
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		// pgrep unavailable or failed, fall back to ps
		// pgrep 不可用或失败，回退到 ps
		return s.findProcessesPS(pattern)
	}

	return s.parseMatches(string(output), pattern)
}

// findProcessesPS is the ps-based fallback scan
// findProcessesPS 是基于 ps 的回退扫描
func (s *ProcessScanner) findProcessesPS(pattern string) ([]*MatchedProcess, error) {
	cmd := exec.Command("ps", "-e", "-o", "pid=,args=")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to scan processes: %w / 扫描进程失败：%w", err, err)
	}

	var matches []*MatchedProcess
	self := os.Getpid()

	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		if len(fields) < 2 {
			continue
		}

		pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}

		cmdline := strings.TrimSpace(fields[1])
		if !strings.Contains(cmdline, pattern) || pid == self {
			continue
		}

		matches = append(matches, &MatchedProcess{PID: pid, Cmdline: cmdline})
	}

	return matches, nil
}

// findProcessesWindows scans processes on Windows
// findProcessesWindows 在 Windows 上扫描进程
func (s *ProcessScanner) findProcessesWindows(pattern string) ([]*MatchedProcess, error) {
	// Use wmic to list command lines / 使用 wmic 列出命令行
	cmd := exec.Command("wmic", "process", "get", "ProcessId,CommandLine", "/format:csv")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to scan processes on Windows: %w / 在 Windows 上扫描进程失败：%w", err, err)
	}

	var matches []*MatchedProcess
	self := os.Getpid()

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, pattern) {
			continue
		}

		// CSV format: Node,CommandLine,ProcessId
		// CSV 格式：Node,CommandLine,ProcessId
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}

		pid, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
		if err != nil || pid == self {
			continue
		}

		cmdline := strings.Join(parts[1:len(parts)-1], ",")
		matches = append(matches, &MatchedProcess{PID: pid, Cmdline: cmdline})
	}

	return matches, nil
}

// parseMatches parses `pgrep -f -a` output lines ("PID CMDLINE")
// parseMatches 解析 `pgrep -f -a` 的输出行（"PID CMDLINE"）
func (s *ProcessScanner) parseMatches(output, pattern string) ([]*MatchedProcess, error) {
	var matches []*MatchedProcess
	self := os.Getpid()

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		proc, err := parseMatchLine(line)
		if err != nil {
			continue
		}

		// pgrep -f matches its own invocation through the parent shell in
		// rare setups; keep only lines that actually carry the pattern and
		// never report the controller itself.
		// 某些环境下 pgrep -f 会匹配到自身调用；只保留真正包含模式的行，
		// 且从不报告控制器自身。
		if proc.PID == self {
			continue
		}
		if !strings.Contains(proc.Cmdline, pattern) {
			continue
		}

		matches = append(matches, proc)
	}

	return matches, nil
}

// parseMatchLine parses a single "PID CMDLINE" line
// parseMatchLine 解析单行 "PID CMDLINE"
func parseMatchLine(line string) (*MatchedProcess, error) {
	fields := strings.SplitN(line, " ", 2)

	pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PID: %w / 解析 PID 失败：%w", err, err)
	}

	cmdline := ""
	if len(fields) > 1 {
		cmdline = strings.TrimSpace(fields[1])
	}

	return &MatchedProcess{PID: pid, Cmdline: cmdline}, nil
}

// Matches reports whether a command line belongs to a managed service
// Matches 报告命令行是否属于托管服务
func (s *ProcessScanner) Matches(cmdline, pattern string) bool {
	return pattern != "" && strings.Contains(cmdline, pattern)
}
