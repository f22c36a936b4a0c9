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

// Package config provides configuration management for the CityFlow controller.
// config 包提供 CityFlow 控制器的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables / 环境变量
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath    = "/etc/cityflowctl/config.yaml"
	DefaultLogLevel      = "info"
	DefaultLogFile       = "/var/log/cityflowctl/controller.log"
	DefaultLogMaxSize    = 100 // MB
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 7 // days
	DefaultServiceLogDir = "logs"
	DefaultSettleDelay   = 2 * time.Second
	DefaultStopTimeout   = 10 * time.Second
	DefaultProbeDelay    = 5 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	DefaultProbeAttempts = 5
	DefaultProbeBackoff  = 500 * time.Millisecond
	DefaultProbeCeiling  = 8 * time.Second
	DefaultStoreTimeout  = 5 * time.Second
	DefaultMetadataURL   = "http://169.254.169.254/latest/meta-data/public-ipv4"
	DefaultMetadataWait  = 2 * time.Second
	DefaultMongoURI      = "mongodb://localhost:27017/"
	DefaultMongoDatabase = "cityflow-db"
)

// Service names for the two managed processes
// 两个托管进程的服务名称
const (
	ServiceAPI       = "api"
	ServiceDashboard = "dashboard"
)

// Config represents the controller configuration
// Config 表示控制器配置
type Config struct {
	// Controller holds controller-wide settings / 控制器全局设置
	Controller ControllerConfig `mapstructure:"controller"`

	// Services holds the managed service definitions / 托管服务定义
	Services ServicesConfig `mapstructure:"services"`

	// Probe holds health probe settings / 健康探测设置
	Probe ProbeConfig `mapstructure:"probe"`

	// Store holds metrics store settings / 指标存储设置
	Store StoreConfig `mapstructure:"store"`

	// Pipeline holds data-processing pipeline settings / 数据处理流水线设置
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Log holds controller logging settings / 控制器日志设置
	Log LogConfig `mapstructure:"log"`

	// Net holds public address discovery settings / 公网地址发现设置
	Net NetConfig `mapstructure:"net"`
}

// ControllerConfig contains controller-wide settings
// ControllerConfig 包含控制器全局设置
type ControllerConfig struct {
	// LogDir is the directory for service log files (created if missing)
	// LogDir 是服务日志文件目录（不存在时创建）
	LogDir string `mapstructure:"log_dir"`

	// VenvDir is an optional Python virtual environment directory.
	// When present on disk it is applied to launched commands.
	// VenvDir 是可选的 Python 虚拟环境目录，存在时应用于启动的命令。
	VenvDir string `mapstructure:"venv_dir"`

	// WorkDir is the working directory for launched commands
	// WorkDir 是启动命令的工作目录
	WorkDir string `mapstructure:"work_dir"`

	// SettleDelay is the wait between stopping an old instance and launching a new one
	// SettleDelay 是停止旧实例与启动新实例之间的等待时间
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	// StopTimeout bounds the wait for signalled processes to exit
	// StopTimeout 限制等待已发信号进程退出的时间
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// ServiceConfig describes one externally-implemented managed service
// ServiceConfig 描述一个外部实现的托管服务
type ServiceConfig struct {
	// Name is the service name / 服务名称
	Name string `mapstructure:"name"`

	// Pattern is the command-line substring used to match running instances
	// Pattern 是用于匹配运行实例的命令行子串
	Pattern string `mapstructure:"pattern"`

	// Command is the launch command and its arguments
	// Command 是启动命令及其参数
	Command []string `mapstructure:"command"`

	// Port is the fixed local port the service answers on
	// Port 是服务监听的固定本地端口
	Port int `mapstructure:"port"`

	// HealthPath is the HTTP path probed for readiness
	// HealthPath 是用于就绪探测的 HTTP 路径
	HealthPath string `mapstructure:"health_path"`

	// URLPath is the path component of the printed access URL
	// URLPath 是打印的访问 URL 的路径部分
	URLPath string `mapstructure:"url_path"`

	// LogFile is the log file name under the controller log dir.
	// Empty means the service output is discarded.
	// LogFile 是控制器日志目录下的日志文件名，为空表示丢弃服务输出。
	LogFile string `mapstructure:"log_file"`
}

// ServicesConfig holds the two managed services
// ServicesConfig 保存两个托管服务
type ServicesConfig struct {
	API       ServiceConfig `mapstructure:"api"`
	Dashboard ServiceConfig `mapstructure:"dashboard"`
}

// ProbeConfig contains health probe settings
// ProbeConfig 包含健康探测设置
type ProbeConfig struct {
	// InitialDelay is the wait before the first probe after a launch
	// InitialDelay 是启动后首次探测前的等待时间
	InitialDelay time.Duration `mapstructure:"initial_delay"`

	// Timeout is the per-request HTTP timeout
	// Timeout 是单次 HTTP 请求超时时间
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxAttempts bounds the readiness retry loop
	// MaxAttempts 限制就绪重试循环的次数
	MaxAttempts int `mapstructure:"max_attempts"`

	// BaseBackoff is the first retry interval / 首次重试间隔
	BaseBackoff time.Duration `mapstructure:"base_backoff"`

	// MaxBackoff is the retry interval ceiling / 重试间隔上限
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// StoreConfig contains metrics store settings
// StoreConfig 包含指标存储设置
type StoreConfig struct {
	// URI is the MongoDB connection URI / MongoDB 连接 URI
	URI string `mapstructure:"uri"`

	// Database is the metrics database name / 指标数据库名称
	Database string `mapstructure:"database"`

	// ConnectTimeout bounds connection and ping attempts
	// ConnectTimeout 限制连接和 ping 尝试的时间
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// FluxCollection holds flow metric documents / 流量指标集合
	FluxCollection string `mapstructure:"flux_collection"`

	// PerformanceCollection holds performance metric documents / 性能指标集合
	PerformanceCollection string `mapstructure:"performance_collection"`

	// AnalyseCollection holds analysis metric documents / 分析指标集合
	AnalyseCollection string `mapstructure:"analyse_collection"`

	// InfrastructureCollection holds infrastructure metric documents / 基础设施指标集合
	InfrastructureCollection string `mapstructure:"infrastructure_collection"`

	// CorrelationsCollection holds daily correlation documents / 每日相关性集合
	CorrelationsCollection string `mapstructure:"correlations_collection"`

	// ReportsCollection holds daily report documents / 每日报告集合
	ReportsCollection string `mapstructure:"reports_collection"`
}

// Collections returns all routed collection names in display order
// Collections 按显示顺序返回所有路由集合名称
func (s *StoreConfig) Collections() []string {
	return []string{
		s.FluxCollection,
		s.PerformanceCollection,
		s.AnalyseCollection,
		s.InfrastructureCollection,
		s.CorrelationsCollection,
		s.ReportsCollection,
	}
}

// RequirementConfig describes one optional tool dependency
// RequirementConfig 描述一个可选的工具依赖
type RequirementConfig struct {
	// Tool is the executable looked up on PATH / 在 PATH 上查找的可执行文件
	Tool string `mapstructure:"tool"`

	// Install is the command attempted when the tool is missing
	// Install 是工具缺失时尝试执行的安装命令
	Install []string `mapstructure:"install"`
}

// PipelineConfig contains data-processing pipeline settings
// PipelineConfig 包含数据处理流水线设置
type PipelineConfig struct {
	// ProcessingCommand invokes the external data-processing job.
	// The target date is appended as the final argument.
	// ProcessingCommand 调用外部数据处理作业，目标日期作为最后一个参数追加。
	ProcessingCommand []string `mapstructure:"processing_command"`

	// Requirements are checked (and installed best-effort) before the run
	// Requirements 在运行前检查（并尽力安装）
	Requirements []RequirementConfig `mapstructure:"requirements"`
}

// LogConfig contains controller logging settings
// LogConfig 包含控制器日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level"`

	// File is the controller log file path / 控制器日志文件路径
	File string `mapstructure:"file"`

	// MaxSize is the maximum size of a log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size"`

	// MaxBackups is the maximum number of rotated files to retain
	// MaxBackups 是保留的轮转文件的最大数量
	MaxBackups int `mapstructure:"max_backups"`

	// MaxAge is the maximum number of days to retain rotated files
	// MaxAge 是保留轮转文件的最大天数
	MaxAge int `mapstructure:"max_age"`
}

// NetConfig contains public address discovery settings
// NetConfig 包含公网地址发现设置
type NetConfig struct {
	// MetadataURL is the cloud metadata endpoint returning the public IP
	// MetadataURL 是返回公网 IP 的云元数据端点
	MetadataURL string `mapstructure:"metadata_url"`

	// Timeout bounds the metadata lookup / 限制元数据查询时间
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Check environment variable / 检查环境变量
		envPath := os.Getenv("CITYFLOW_CONFIG_PATH")
		if envPath != "" {
			v.SetConfigFile(envPath)
		} else {
			v.SetConfigFile(DefaultConfigPath)
		}
	}

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("CITYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			// Check if file exists / 检查文件是否存在
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults / 文件不存在，使用默认值
		}
	}

	// Unmarshal config / 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Controller defaults / 控制器默认值
	v.SetDefault("controller.log_dir", DefaultServiceLogDir)
	v.SetDefault("controller.venv_dir", "venv")
	v.SetDefault("controller.work_dir", "")
	v.SetDefault("controller.settle_delay", DefaultSettleDelay)
	v.SetDefault("controller.stop_timeout", DefaultStopTimeout)

	// API service defaults / API 服务默认值
	v.SetDefault("services.api.name", ServiceAPI)
	v.SetDefault("services.api.pattern", "api.main")
	v.SetDefault("services.api.command", []string{"python", "-m", "api.main"})
	v.SetDefault("services.api.port", 8000)
	v.SetDefault("services.api.health_path", "/health")
	v.SetDefault("services.api.log_file", "api.log")

	// Dashboard service defaults / 仪表盘服务默认值
	v.SetDefault("services.dashboard.name", ServiceDashboard)
	v.SetDefault("services.dashboard.pattern", "streamlit run")
	v.SetDefault("services.dashboard.command", []string{
		"streamlit", "run", "streamlit_app/app.py",
		"--server.port", "8501", "--server.headless", "true",
	})
	v.SetDefault("services.dashboard.port", 8501)
	v.SetDefault("services.dashboard.health_path", "/_stcore/health")
	v.SetDefault("services.dashboard.log_file", "dashboard.log")

	// Probe defaults / 探测默认值
	v.SetDefault("probe.initial_delay", DefaultProbeDelay)
	v.SetDefault("probe.timeout", DefaultProbeTimeout)
	v.SetDefault("probe.max_attempts", DefaultProbeAttempts)
	v.SetDefault("probe.base_backoff", DefaultProbeBackoff)
	v.SetDefault("probe.max_backoff", DefaultProbeCeiling)

	// Store defaults / 存储默认值
	v.SetDefault("store.uri", DefaultMongoURI)
	v.SetDefault("store.database", DefaultMongoDatabase)
	v.SetDefault("store.connect_timeout", DefaultStoreTimeout)
	v.SetDefault("store.flux_collection", "cityflow-metrics-flux")
	v.SetDefault("store.performance_collection", "cityflow-metrics-performance")
	v.SetDefault("store.analyse_collection", "cityflow-metrics-analyse")
	v.SetDefault("store.infrastructure_collection", "cityflow-metrics-infrastructure")
	v.SetDefault("store.correlations_collection", "cityflow-daily-correlations")
	v.SetDefault("store.reports_collection", "cityflow-daily-reports")

	// Pipeline defaults / 流水线默认值
	v.SetDefault("pipeline.processing_command", []string{"python", "-m", "processors.main"})

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	// Net defaults / 网络默认值
	v.SetDefault("net.metadata_url", DefaultMetadataURL)
	v.SetDefault("net.timeout", DefaultMetadataWait)
}

// Service returns the service configuration for a service name
// Service 返回服务名称对应的服务配置
func (c *Config) Service(name string) (*ServiceConfig, error) {
	switch name {
	case ServiceAPI:
		return &c.Services.API, nil
	case ServiceDashboard:
		return &c.Services.Dashboard, nil
	default:
		return nil, fmt.Errorf("unknown service: %s (must be %s or %s)", name, ServiceAPI, ServiceDashboard)
	}
}

// AllServices returns both managed services in launch order
// AllServices 按启动顺序返回两个托管服务
func (c *Config) AllServices() []*ServiceConfig {
	return []*ServiceConfig{&c.Services.API, &c.Services.Dashboard}
}

// HealthURL returns the local health probe URL for a service
// HealthURL 返回服务的本地健康探测 URL
func (s *ServiceConfig) HealthURL() string {
	return fmt.Sprintf("http://localhost:%d%s", s.Port, s.HealthPath)
}

// AccessURL returns the externally visible URL for a service on host
// AccessURL 返回服务在 host 上对外可见的 URL
func (s *ServiceConfig) AccessURL(host string) string {
	return fmt.Sprintf("http://%s:%d%s", host, s.Port, s.URLPath)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	for _, svc := range c.AllServices() {
		if svc.Pattern == "" {
			return fmt.Errorf("services.%s.pattern is required", svc.Name)
		}
		if len(svc.Command) == 0 {
			return fmt.Errorf("services.%s.command is required", svc.Name)
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("services.%s.port must be between 1 and 65535", svc.Name)
		}
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate probe settings / 验证探测设置
	if c.Probe.MaxAttempts < 1 {
		return errors.New("probe.max_attempts must be at least 1")
	}
	if c.Probe.BaseBackoff <= 0 {
		return errors.New("probe.base_backoff must be positive")
	}
	if c.Probe.MaxBackoff < c.Probe.BaseBackoff {
		return errors.New("probe.max_backoff must not be smaller than probe.base_backoff")
	}

	// Validate store settings / 验证存储设置
	if c.Store.URI == "" {
		return errors.New("store.uri is required")
	}
	if c.Store.Database == "" {
		return errors.New("store.database is required")
	}

	// Validate pipeline settings / 验证流水线设置
	if len(c.Pipeline.ProcessingCommand) == 0 {
		return errors.New("pipeline.processing_command is required")
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{API: %q on :%d, Dashboard: %q on :%d, Store: %s/%s, Log.Level: %s}",
		c.Services.API.Pattern, c.Services.API.Port,
		c.Services.Dashboard.Pattern, c.Services.Dashboard.Port,
		c.Store.URI, c.Store.Database,
		c.Log.Level,
	)
}
