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

// Package health provides HTTP readiness probing for the managed services.
// health 包为托管服务提供 HTTP 就绪探测功能。
//
// A probe is a single GET used to infer readiness. Readiness *waiting*
// after a launch retries the probe with bounded exponential backoff
// instead of a fixed sleep and a single attempt.
// 探测是用于推断就绪状态的单次 GET。启动后的就绪*等待*使用有界指数退避
// 重试探测，而不是固定休眠加单次尝试。
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cityflow/cityflowctl/internal/config"
)

// HTTPProber issues readiness probes over plain HTTP
// HTTPProber 通过普通 HTTP 发起就绪探测
type HTTPProber struct {
	cfg    *config.ProbeConfig
	client *http.Client
	logger *zap.Logger

	// sleep is replaceable so tests do not wait out real backoff intervals
	// sleep 可替换，使测试无需等待真实的退避间隔
	sleep func(ctx context.Context, d time.Duration)
}

// NewHTTPProber creates a new HTTPProber instance
// NewHTTPProber 创建一个新的 HTTPProber 实例
func NewHTTPProber(cfg *config.ProbeConfig, logger *zap.Logger) *HTTPProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Probe issues one HTTP GET against url; any 2xx answer means reachable.
// Success or failure only gates a printed status line, never a launch.
// Probe 对 url 发起一次 HTTP GET；任何 2xx 响应都表示可达。
// 成败只决定打印的状态行，从不影响启动。
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w / 构建探测请求失败：%w", err, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused / 读空以便连接复用
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s / %s 返回异常状态 %d", resp.StatusCode, url, url, resp.StatusCode)
	}

	return nil
}

// WaitReachable waits for url to answer after a launch: an initial delay,
// then up to MaxAttempts probes with exponential backoff capped at
// MaxBackoff. Returns the last probe error when the budget is exhausted.
// WaitReachable 在启动后等待 url 响应：先初始延迟，然后最多 MaxAttempts 次
// 探测，指数退避封顶于 MaxBackoff。预算用尽时返回最后一次探测错误。
func (p *HTTPProber) WaitReachable(ctx context.Context, url string) error {
	p.sleep(ctx, p.cfg.InitialDelay)

	backoff := p.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.Probe(ctx, url)
		if lastErr == nil {
			p.logger.Debug("service reachable",
				zap.String("url", url), zap.Int("attempt", attempt))
			return nil
		}

		p.logger.Debug("probe failed",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Error(lastErr))

		if attempt == p.cfg.MaxAttempts {
			break
		}

		p.sleep(ctx, backoff)
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}

	return fmt.Errorf("not reachable after %d attempts: %w / %d 次尝试后不可达：%w",
		p.cfg.MaxAttempts, lastErr, p.cfg.MaxAttempts, lastErr)
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
