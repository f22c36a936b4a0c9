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
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// **Property: Scan Output Parsing**
//
// Property: For any synthesized process table where every command line
// contains the pattern, parsing SHALL recover every PID except the
// scanner's own, in order.
// 属性：对于任何合成的进程表，若每个命令行都包含模式，
// 解析应该按顺序恢复除扫描器自身外的每个 PID。
func TestProperty_ScanOutputParsing(t *testing.T) {
	s := NewProcessScanner()
	self := os.Getpid()

	rapid.Check(t, func(t *rapid.T) {
		pattern := rapid.StringMatching(`[a-z][a-z.]{2,12}`).Draw(t, "pattern")
		count := rapid.IntRange(0, 20).Draw(t, "count")

		var sb strings.Builder
		var wantPIDs []int
		for i := 0; i < count; i++ {
			pid := rapid.IntRange(1, 4194304).Draw(t, fmt.Sprintf("pid%d", i))
			prefix := rapid.StringMatching(`[a-z/ -]{0,15}`).Draw(t, fmt.Sprintf("prefix%d", i))

			fmt.Fprintf(&sb, "%d %s%s\n", pid, prefix, pattern)
			if pid != self {
				wantPIDs = append(wantPIDs, pid)
			}
		}

		matches, err := s.parseMatches(sb.String(), pattern)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}

		if len(matches) != len(wantPIDs) {
			t.Fatalf("match count mismatch: got %d, want %d", len(matches), len(wantPIDs))
		}
		for i, proc := range matches {
			if proc.PID != wantPIDs[i] {
				t.Fatalf("PID mismatch at %d: got %d, want %d", i, proc.PID, wantPIDs[i])
			}
			if !strings.Contains(proc.Cmdline, pattern) {
				t.Fatalf("command line %q lost pattern %q", proc.Cmdline, pattern)
			}
		}
	})
}

// **Property: Non-Matching Lines Never Surface**
//
// Property: Lines whose command line does not contain the pattern SHALL
// never appear in the result, whatever surrounds them.
// 属性：命令行不包含模式的行无论周围是什么，都不应该出现在结果中。
func TestProperty_NonMatchingLinesFiltered(t *testing.T) {
	s := NewProcessScanner()

	rapid.Check(t, func(t *rapid.T) {
		pattern := rapid.StringMatching(`[a-z]{6,12}`).Draw(t, "pattern")
		// Command lines over a disjoint alphabet can never contain the pattern
		// 不相交字母表上的命令行不可能包含模式
		noise := rapid.SliceOfN(rapid.StringMatching(`[A-Z0-9/ ]{1,30}`), 1, 10).Draw(t, "noise")

		var sb strings.Builder
		for i, cmd := range noise {
			fmt.Fprintf(&sb, "%d %s\n", 1000+i, cmd)
		}

		matches, err := s.parseMatches(sb.String(), pattern)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if len(matches) != 0 {
			t.Fatalf("unexpected matches: %+v", matches)
		}
	})
}
