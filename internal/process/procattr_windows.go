//go:build windows
// +build windows

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

package process

import "os/exec"

// setProcGroupAttr is a no-op on Windows; detachment is handled by the
// default CreateProcess behaviour for non-console children.
// setProcGroupAttr 在 Windows 上为空操作；分离由非控制台子进程的
// 默认 CreateProcess 行为处理。
func setProcGroupAttr(cmd *exec.Cmd) {}
