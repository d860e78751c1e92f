// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。LoadFile() 在环境变量之上叠加 YAML 文件。
package config

import (
	"fmt"
	"strings"
	"time"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
	"github.com/sparkbox/go-kiosk/pkg/util"
)

// DefaultStandbyMessage 首次进入语音界面时写入的系统消息。
const DefaultStandbyMessage = "Voice assistant ready. Hold the talk button and ask about your project."

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 后端
	BackendURL     string `env:"KIOSK_BACKEND_URL" default:"http://127.0.0.1:5000" yaml:"backend_url"`
	StreamPath     string `env:"KIOSK_STREAM_PATH" default:"/stream" yaml:"stream_path"`
	HTTPTimeoutSec int    `env:"KIOSK_HTTP_TIMEOUT_SEC" default:"10" min:"1" yaml:"http_timeout_sec"`

	// 视图服务
	ListenAddr string `env:"KIOSK_LISTEN_ADDR" default:":8090" yaml:"listen_addr"`
	StaticDir  string `env:"KIOSK_STATIC_DIR" default:"./static" yaml:"static_dir"`

	// 兜底轮询
	PollIntervalMS  int `env:"KIOSK_POLL_INTERVAL_MS" default:"1500" min:"1" yaml:"poll_interval_ms"`
	PollMaxAttempts int `env:"KIOSK_POLL_MAX_ATTEMPTS" default:"80" min:"1" yaml:"poll_max_attempts"`

	// 聊天
	ChatChunkMax   int    `env:"KIOSK_CHAT_CHUNK_MAX" default:"180" min:"16" yaml:"chat_chunk_max"`
	ChatPageSize   int    `env:"KIOSK_CHAT_PAGE_SIZE" default:"4" min:"1" yaml:"chat_page_size"`
	StandbyMessage string `env:"KIOSK_STANDBY_MESSAGE" yaml:"standby_message"`

	// 图片
	ImageRetryCeiling int      `env:"KIOSK_IMAGE_RETRY_CEILING" default:"3" min:"0" yaml:"image_retry_ceiling"`
	ImageRetryStepMS  int      `env:"KIOSK_IMAGE_RETRY_STEP_MS" default:"2000" min:"1" yaml:"image_retry_step_ms"`
	ImageProxyEnabled bool     `env:"KIOSK_IMAGE_PROXY_ENABLED" default:"true" yaml:"image_proxy_enabled"`
	ImageProxyPath    string   `env:"KIOSK_IMAGE_PROXY_PATH" default:"/api/proxy_image" yaml:"image_proxy_path"`
	ImageProxySchemes []string `env:"KIOSK_IMAGE_PROXY_SCHEMES" default:"http,https" yaml:"image_proxy_schemes"`
	ImagePlaceholder  string   `env:"KIOSK_IMAGE_PLACEHOLDER" default:"/static/placeholder.svg" yaml:"image_placeholder"`

	// 加载动画
	LogAnimIntervalMS int `env:"KIOSK_LOG_ANIM_INTERVAL_MS" default:"600" min:"10" yaml:"log_anim_interval_ms"`
	LogAnimMaxLines   int `env:"KIOSK_LOG_ANIM_MAX_LINES" default:"8" min:"1" yaml:"log_anim_max_lines"`

	// 推送通道重连
	ReconnectBaseMS int `env:"KIOSK_RECONNECT_BASE_MS" default:"500" min:"1" yaml:"reconnect_base_ms"`
	ReconnectMaxMS  int `env:"KIOSK_RECONNECT_MAX_MS" default:"15000" min:"1" yaml:"reconnect_max_ms"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO" yaml:"log_level"`
	LogDir   string `env:"KIOSK_LOG_DIR" yaml:"log_dir"`

	// 数据库日志保留天数
	LogRetentionDays int `env:"KIOSK_LOG_RETENTION_DAYS" default:"30" min:"1" yaml:"log_retention_days"`

	// PostgreSQL (连接串为空时不持久化)
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING" yaml:"postgres_connection_string"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public" yaml:"postgres_schema"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1" yaml:"postgres_pool_min_size"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"5" min:"1" yaml:"postgres_pool_max_size"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	if cfg.StandbyMessage == "" {
		cfg.StandbyMessage = DefaultStandbyMessage
	}
	return &cfg
}

// minChatChunk 与 KIOSK_CHAT_CHUNK_MAX 的 min 标签一致, 留出 [i/n] 前缀之外的正文空间。
const minChatChunk = 16

// Validate 检查会导致运行期死循环或除零的取值。
func (c *Config) Validate() error {
	const op = "Config.Validate"
	switch {
	case strings.TrimSpace(c.BackendURL) == "":
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "backend_url is empty")
	case c.ChatChunkMax < minChatChunk:
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, fmt.Sprintf("chat_chunk_max must be at least %d", minChatChunk))
	case c.ChatPageSize <= 0:
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "chat_page_size must be positive")
	case c.PollIntervalMS <= 0:
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "poll_interval_ms must be positive")
	case c.PollMaxAttempts <= 0:
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "poll_max_attempts must be positive")
	case c.ImageRetryCeiling < 0:
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "image_retry_ceiling must not be negative")
	case c.ReconnectMaxMS < c.ReconnectBaseMS:
		return pkgerr.WithCode(pkgerr.ErrInvalidInput, op, pkgerr.CodeConfig, "reconnect_max_ms below reconnect_base_ms")
	}
	return nil
}

// HTTPTimeout 后端请求超时。
func (c *Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutSec) * time.Second }

// PollInterval 兜底轮询间隔。
func (c *Config) PollInterval() time.Duration { return ms(c.PollIntervalMS) }

// ImageRetryStep 图片重试退避步长。
func (c *Config) ImageRetryStep() time.Duration { return ms(c.ImageRetryStepMS) }

// LogAnimInterval 加载日志动画间隔。
func (c *Config) LogAnimInterval() time.Duration { return ms(c.LogAnimIntervalMS) }

// ReconnectBase 推送通道重连初始延迟。
func (c *Config) ReconnectBase() time.Duration { return ms(c.ReconnectBaseMS) }

// ReconnectMax 推送通道重连延迟上限。
func (c *Config) ReconnectMax() time.Duration { return ms(c.ReconnectMaxMS) }

// StreamURL 推送通道完整地址。
func (c *Config) StreamURL() string {
	return strings.TrimRight(c.BackendURL, "/") + "/" + strings.TrimLeft(c.StreamPath, "/")
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
