package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		// URL 单节点（redis://...）；Addrs 多个地址时走集群
		URL      string   `mapstructure:"url"`
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Relay struct {
		AllowedOrigins  []string `mapstructure:"allowed_origins"`
		MaxPayloadBytes int64    `mapstructure:"max_payload_bytes"`
	} `mapstructure:"relay"`
	Blob struct {
		Root    string `mapstructure:"root"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"blob"`
	Share struct {
		BaseURL string `mapstructure:"base_url"` // 分享链接前缀，fragment 拼在其后
	} `mapstructure:"share"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// 环境变量 -> 配置键
var envBindings = map[string]string{
	"running.port":            "PORT",
	"redis.url":               "REDIS_URL",
	"redis.addrs":             "REDIS_ADDRS",
	"redis.password":          "REDIS_PASSWORD",
	"mysql.dsn":               "MYSQL_DSN",
	"kafka.brokers":           "KAFKA_BROKERS",
	"kafka.topic":             "KAFKA_TOPIC",
	"relay.allowed_origins":   "CORS_ORIGIN",
	"relay.max_payload_bytes": "MAX_PAYLOAD_BYTES",
	"blob.root":               "BLOB_ROOT",
	"blob.base_url":           "BLOB_BASE_URL",
	"share.base_url":          "SHARE_BASE_URL",
	"log.level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 3002)
	v.SetDefault("kafka.topic", "scene-ops")
	v.SetDefault("relay.allowed_origins", []string{"*"})
	v.SetDefault("relay.max_payload_bytes", 20_000_000)
	v.SetDefault("blob.root", "./data/blobs")
	v.SetDefault("blob.base_url", "/blobs")
	v.SetDefault("share.base_url", "http://localhost:3000/")
	v.SetDefault("log.level", "info")
}

// Load 依次读取：默认值 < config.yaml（可选）< .env < 环境变量
// configPaths 为空时在 ./backend/config、./config、. 下查找
func Load(configPaths ...string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		configPaths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Redis.Addrs = splitList(cfg.Redis.Addrs)
	cfg.Relay.AllowedOrigins = splitList(cfg.Relay.AllowedOrigins)
	return cfg, nil
}

// 环境变量里的逗号列表拆开并去掉空项
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
