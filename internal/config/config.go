package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
)

// Config 聚合整个服务的配置项，进程启动时构建一次，之后只读。
type Config struct {
	Server     ServerConfig
	Completion CompletionConfig
	Persona    persona.Persona
	Memory     MemoryConfig
	Store      StoreConfig
	Log        LogConfig
}

// Load 从环境变量（以及可选的 CONFIG_FILE YAML 文件）加载配置。
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(src)
	if err != nil {
		return nil, err
	}

	completion, err := loadCompletionConfig(src)
	if err != nil {
		return nil, err
	}

	p, err := loadPersona(src)
	if err != nil {
		return nil, err
	}

	memory, err := loadMemoryConfig(src)
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig(src)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(src)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Completion: completion,
		Persona:    p,
		Memory:     memory,
		Store:      store,
		Log:        logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

func loadServerConfig(src *source) (ServerConfig, error) {
	port := src.get("port")
	if port == "" {
		port = "8000"
	}

	var addr string
	switch {
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	case strings.Contains(port, ":"):
		// 允许直接传入 ":8000" 或 "127.0.0.1:8000"。
		addr = port
	default:
		addr = ":" + port
	}

	return ServerConfig{
		Addr:        addr,
		CORSOrigins: src.list("cors_origins", []string{"*"}),
	}, nil
}

// CompletionConfig 描述上游补全接口的配置。
type CompletionConfig struct {
	APIKey  string
	Model   string
	URL     string
	Timeout time.Duration
	Replies CannedReplies
}

// CannedReplies 是上游不可用时替代回复的固定文案。
type CannedReplies struct {
	AuthFailure string
	RateLimited string
	Malformed   string
}

// DefaultReplies returns the stock canned replies.
func DefaultReplies() CannedReplies {
	return CannedReplies{
		AuthFailure: "API key issue hai, please check karo!",
		RateLimited: "Thak gayi hun, thodi der baad baat karte hain!",
		Malformed:   "Kuch gadbad ho gayi, try again!",
	}
}

func loadCompletionConfig(src *source) (CompletionConfig, error) {
	model := src.get("model")
	if model == "" {
		return CompletionConfig{}, errors.New("MODEL is required")
	}

	timeout, err := src.seconds("completion_timeout", 120*time.Second)
	if err != nil {
		return CompletionConfig{}, err
	}

	defaults := DefaultReplies()
	return CompletionConfig{
		APIKey:  src.get("api_key"),
		Model:   model,
		URL:     src.getOrDefault("completion_url", "https://ollama.com/api/chat"),
		Timeout: timeout,
		Replies: CannedReplies{
			AuthFailure: src.getOrDefault("reply_auth_failure", defaults.AuthFailure),
			RateLimited: src.getOrDefault("reply_rate_limited", defaults.RateLimited),
			Malformed:   src.getOrDefault("reply_malformed", defaults.Malformed),
		},
	}, nil
}

func loadPersona(src *source) (persona.Persona, error) {
	p := persona.Default()

	if name := src.get("persona_name"); name != "" {
		p.Name = name
	}
	if line := src.get("persona_opening_line"); line != "" {
		p.OpeningLine = line
	}

	if path := src.get("persona_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return persona.Persona{}, fmt.Errorf("read PERSONA_FILE %q: %w", path, err)
		}
		p.Prompt = strings.TrimSpace(string(data))
	} else if prompt := src.get("persona_prompt"); prompt != "" {
		p.Prompt = prompt
	}

	if p.Prompt == "" {
		return persona.Persona{}, errors.New("persona prompt must not be empty")
	}
	return p, nil
}

// MemoryConfig 控制后台记忆抽取。
type MemoryConfig struct {
	Enabled bool
	Window  int
	Timeout time.Duration
}

func loadMemoryConfig(src *source) (MemoryConfig, error) {
	enabled, err := src.boolean("memory_enabled", true)
	if err != nil {
		return MemoryConfig{}, err
	}

	window := 10
	if override, err := src.optionalInt("memory_window"); err != nil {
		return MemoryConfig{}, err
	} else if override != nil {
		if *override < 1 {
			window = 1
		} else {
			window = *override
		}
	}

	timeout, err := src.seconds("memory_timeout", 60*time.Second)
	if err != nil {
		return MemoryConfig{}, err
	}

	return MemoryConfig{Enabled: enabled, Window: window, Timeout: timeout}, nil
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// StoreConfig 选择持久化后端。
type StoreConfig struct {
	Driver        string
	DSN           string
	MongoURI      string
	MongoDatabase string
}

func loadStoreConfig(src *source) (StoreConfig, error) {
	cfg := StoreConfig{
		Driver:        strings.ToLower(src.getOrDefault("store_driver", DriverMemory)),
		DSN:           src.get("store_dsn"),
		MongoURI:      src.get("mongo_uri"),
		MongoDatabase: src.getOrDefault("mongo_database", "companion"),
	}

	switch cfg.Driver {
	case DriverMemory:
	case DriverSQLite:
		if cfg.DSN == "" {
			cfg.DSN = "companion.db"
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return StoreConfig{}, errors.New("STORE_DSN is required for the postgres driver")
		}
	case DriverMongo:
		if cfg.MongoURI == "" {
			return StoreConfig{}, errors.New("MONGO_URI is required for the mongo driver")
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", cfg.Driver)
	}
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Debug  bool
	Format string
}

func loadLogConfig(src *source) (LogConfig, error) {
	level := strings.ToLower(src.getOrDefault("log_level", "info"))
	if level != "info" && level != "debug" {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value: %q", level)
	}

	format := strings.ToLower(src.getOrDefault("log_format", "text"))
	switch format {
	case "text", "json", "pretty":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value: %q", format)
	}

	return LogConfig{Debug: level == "debug", Format: format}, nil
}

// source 封装 viper：键名为小写下划线形式，同时匹配大写环境变量与 YAML 文件字段。
type source struct {
	v *viper.Viper
}

func newSource(configFile string) (*source, error) {
	v := viper.New()
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE %q: %w", configFile, err)
		}
	}
	return &source{v: v}, nil
}

func (s *source) get(key string) string {
	return strings.TrimSpace(s.v.GetString(key))
}

func (s *source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *source) list(key string, defaultValue []string) []string {
	raw := s.get(key)
	if raw == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func (s *source) boolean(key string, defaultValue bool) (bool, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", strings.ToUpper(key), raw, err)
	}
	return val, nil
}

func (s *source) optionalInt(key string) (*int, error) {
	raw := s.get(key)
	if raw == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", strings.ToUpper(key), raw, err)
	}
	return &val, nil
}

// seconds 解析以秒为单位的超时，0 表示不设超时。
func (s *source) seconds(key string, defaultValue time.Duration) (time.Duration, error) {
	val, err := s.optionalInt(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", strings.ToUpper(key), *val)
	}
	return time.Duration(*val) * time.Second, nil
}
