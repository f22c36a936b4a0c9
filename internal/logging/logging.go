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

// Package logging builds the controller's structured logger.
// logging 包构建控制器的结构化日志记录器。
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cityflow/cityflowctl/internal/config"
)

// New creates a logger from config. With a log file configured, entries go
// to a rotated JSON file and warnings also reach stderr; without one,
// everything goes to stderr in console form.
// New 根据配置创建日志记录器。配置了日志文件时，日志以 JSON 格式写入
// 轮转文件，警告同时输出到 stderr；未配置时全部以控制台格式输出到 stderr。
func New(cfg *config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w / 无效的日志级别 %q：%w", cfg.Level, err, cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	console := zapcore.NewConsoleEncoder(consoleCfg)

	if cfg.File == "" {
		core := zapcore.NewCore(console, zapcore.Lock(os.Stderr), level)
		return zap.New(core), nil
	}

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level),
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), zapcore.WarnLevel),
	)
	return zap.New(core), nil
}
