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

// Package netinfo provides best-effort public address discovery.
// netinfo 包提供尽力而为的公网地址发现功能。
package netinfo

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/cityflow/cityflowctl/internal/config"
)

// LocalhostLabel is the display fallback when no public IP is available
// LocalhostLabel 是无公网 IP 时的显示回退值
const LocalhostLabel = "localhost"

// Resolver discovers the host's public IP from the cloud metadata endpoint
// Resolver 从云元数据端点发现主机的公网 IP
type Resolver struct {
	cfg    *config.NetConfig
	client *http.Client
}

// NewResolver creates a new Resolver instance
// NewResolver 创建一个新的 Resolver 实例
func NewResolver(cfg *config.NetConfig) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// PublicHost returns the public IP, or the localhost label when the
// metadata endpoint is absent, slow, or answers with anything unusable.
// Used only for display in access URLs; failures are silent.
// PublicHost 返回公网 IP；当元数据端点不存在、响应慢或返回不可用内容时
// 返回 localhost 标签。仅用于访问 URL 的显示；失败是静默的。
func (r *Resolver) PublicHost(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.MetadataURL, nil)
	if err != nil {
		return LocalhostLabel
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return LocalhostLabel
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LocalhostLabel
	}

	// Metadata answers with the bare address / 元数据以裸地址响应
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return LocalhostLabel
	}

	host := strings.TrimSpace(string(body))
	if host == "" || strings.ContainsAny(host, " \n<>") {
		return LocalhostLabel
	}

	return host
}
