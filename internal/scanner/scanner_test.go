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

package scanner

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseMatchLine tests parsing of single pgrep output lines
// TestParseMatchLine 测试解析单行 pgrep 输出
func TestParseMatchLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantPID int
		wantCmd string
		wantErr bool
	}{
		{
			name:    "pid and command line",
			line:    "1234 python -m api.main",
			wantPID: 1234,
			wantCmd: "python -m api.main",
		},
		{
			name:    "pid only",
			line:    "42",
			wantPID: 42,
			wantCmd: "",
		},
		{
			name:    "command with extra spaces",
			line:    "99  streamlit run streamlit_app/app.py",
			wantPID: 99,
			wantCmd: "streamlit run streamlit_app/app.py",
		},
		{
			name:    "non-numeric pid",
			line:    "abc python",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, err := parseMatchLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPID, proc.PID)
			assert.Equal(t, tt.wantCmd, proc.Cmdline)
		})
	}
}

// TestParseMatches tests parsing of full pgrep output
// TestParseMatches 测试解析完整的 pgrep 输出
func TestParseMatches(t *testing.T) {
	s := NewProcessScanner()

	output := "1234 python -m api.main\n5678 python -m api.main --reload\n"
	matches, err := s.parseMatches(output, "api.main")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 1234, matches[0].PID)
	assert.Equal(t, "python -m api.main", matches[0].Cmdline)
	assert.Equal(t, 5678, matches[1].PID)
}

// TestParseMatchesSkipsGarbage tests that malformed lines are ignored
// TestParseMatchesSkipsGarbage 测试忽略格式错误的行
func TestParseMatchesSkipsGarbage(t *testing.T) {
	s := NewProcessScanner()

	output := "\n1234 python -m api.main\nnot-a-pid something\n\n  \n"
	matches, err := s.parseMatches(output, "api.main")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1234, matches[0].PID)
}

// TestParseMatchesExcludesSelf tests that the scanning process is excluded
// TestParseMatchesExcludesSelf 测试排除扫描进程自身
func TestParseMatchesExcludesSelf(t *testing.T) {
	s := NewProcessScanner()

	output := fmt.Sprintf("%d pgrep -f -a api.main\n1234 python -m api.main\n", os.Getpid())
	matches, err := s.parseMatches(output, "api.main")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1234, matches[0].PID)
}

// TestParseMatchesFiltersPattern tests that lines without the pattern are dropped
// TestParseMatchesFiltersPattern 测试丢弃不包含模式的行
func TestParseMatchesFiltersPattern(t *testing.T) {
	s := NewProcessScanner()

	output := "1234 python -m api.main\n5678 nginx: worker process\n"
	matches, err := s.parseMatches(output, "api.main")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1234, matches[0].PID)
}

// TestParseMatchesDropsEmptyCmdline tests that PID-only lines never match;
// a line with no command line cannot contain the pattern.
// TestParseMatchesDropsEmptyCmdline 测试仅含 PID 的行从不匹配；
// 没有命令行的行不可能包含模式。
func TestParseMatchesDropsEmptyCmdline(t *testing.T) {
	s := NewProcessScanner()

	output := "0\n42\n1234 python -m api.main\n"
	matches, err := s.parseMatches(output, "api.main")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1234, matches[0].PID)
}

// TestFindProcessesEmptyPattern tests rejection of empty patterns
// TestFindProcessesEmptyPattern 测试拒绝空模式
func TestFindProcessesEmptyPattern(t *testing.T) {
	s := NewProcessScanner()

	_, err := s.FindProcesses("")
	assert.Error(t, err)
}

// TestFindProcessesNoMatch tests that an absent process yields an empty
// result instead of an error.
// TestFindProcessesNoMatch 测试不存在的进程产生空结果而不是错误。
func TestFindProcessesNoMatch(t *testing.T) {
	s := NewProcessScanner()

	// Nothing on a sane host carries this marker / 正常主机上没有进程带此标记
	matches, err := s.FindProcesses("cityflowctl-test-no-such-process-a8f2")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// TestFindProcessesSelfExcluded tests that the test binary never matches itself
// TestFindProcessesSelfExcluded 测试测试二进制从不匹配自身
func TestFindProcessesSelfExcluded(t *testing.T) {
	s := NewProcessScanner()

	// The test binary's own command line contains "scanner.test"
	// 测试二进制自身的命令行包含 "scanner.test"
	matches, err := s.FindProcesses("scanner.test")
	require.NoError(t, err)
	for _, proc := range matches {
		assert.NotEqual(t, os.Getpid(), proc.PID)
	}
}

// TestMatches tests pattern matching on command lines
// TestMatches 测试命令行的模式匹配
func TestMatches(t *testing.T) {
	s := NewProcessScanner()

	assert.True(t, s.Matches("python -m api.main", "api.main"))
	assert.True(t, s.Matches("/usr/bin/streamlit run streamlit_app/app.py", "streamlit run"))
	assert.False(t, s.Matches("python -m worker", "api.main"))
	assert.False(t, s.Matches("anything", ""))
}

// TestFindPIDs tests the PID-only view
// TestFindPIDs 测试仅 PID 视图
func TestFindPIDs(t *testing.T) {
	s := NewProcessScanner()

	pids, err := s.FindPIDs("cityflowctl-test-no-such-process-a8f2")
	require.NoError(t, err)
	assert.Empty(t, pids)
}
