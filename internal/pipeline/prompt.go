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
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the operator a yes/no question
// Prompter 向操作员询问是/否问题
type Prompter interface {
	// Confirm returns true only on an explicit affirmative answer
	// Confirm 仅在明确肯定的回答时返回 true
	Confirm(question string) bool
}

// StdinPrompter reads answers from an input stream. Anything other than
// "y" or "yes" (case-insensitive), including EOF and read errors, is a no.
// StdinPrompter 从输入流读取回答。除 "y" 或 "yes"（不区分大小写）以外的
// 任何内容，包括 EOF 和读取错误，都视为否。
type StdinPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Confirm asks question and reads one line
// Confirm 提出问题并读取一行
func (p *StdinPrompter) Confirm(question string) bool {
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)

	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// AutoApprove answers yes to every question; used for --yes runs
// AutoApprove 对所有问题回答是；用于 --yes 运行
type AutoApprove struct{}

// Confirm always returns true
// Confirm 总是返回 true
func (AutoApprove) Confirm(string) bool { return true }
