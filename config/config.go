package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	JWT        JWTConfig        `json:"jwt"`
	Email      EmailConfig      `json:"email"`
	Encryption EncryptionConfig `json:"encryption"`
	Sync       SyncConfig       `json:"sync"`
	Queue      QueueConfig      `json:"queue"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
}

type ServerConfig struct {
	Port string `json:"port"`
	Mode string `json:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `json:"type"` // mysql, postgres
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

type JWTConfig struct {
	Secret     string `json:"secret"`
	ExpireTime int    `json:"expire_time"` // 小时
}

type EmailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

type EncryptionConfig struct {
	Key string `json:"key"` // 32字节，用于连接串的 AES-GCM 加密
}

type SyncConfig struct {
	BatchSize        int `json:"batch_size"`         // 每批处理的行数
	SampleLimit      int `json:"sample_limit"`       // 差异样本上限
	CheckpointEvery  int `json:"checkpoint_every"`   // 每处理多少批持久化一次检查点
	ConnectTimeoutMS int `json:"connect_timeout_ms"` // 连接测试超时
}

type QueueConfig struct {
	Workers       int `json:"workers"`         // 并发执行的任务数
	MaxAttempts   int `json:"max_attempts"`    // 自动重试上限
	BackoffBaseMS int `json:"backoff_base_ms"` // 指数退避基数
	RetainJobs    int `json:"retain_jobs"`     // 保留的已完成/失败任务数
}

// RateLimitBudget 单个请求类别的限流预算
type RateLimitBudget struct {
	Max      int `json:"max"`
	WindowMS int `json:"window_ms"`
}

type RateLimitConfig struct {
	Sync    RateLimitBudget `json:"sync"`
	Schema  RateLimitBudget `json:"schema"`
	Execute RateLimitBudget `json:"execute"`
	Read    RateLimitBudget `json:"read"`
	Admin   RateLimitBudget `json:"admin"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件，缺失的字段使用默认值
func LoadConfig(path string) error {
	GlobalConfig = defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// 配置文件不存在时使用默认配置
		return nil
	}

	return json.Unmarshal(data, GlobalConfig)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type:     "postgres",
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "pgsync",
		},
		JWT: JWTConfig{
			Secret:     "change-me-in-production",
			ExpireTime: 24,
		},
		Encryption: EncryptionConfig{
			Key: "0123456789abcdef0123456789abcdef",
		},
		Sync: SyncConfig{
			BatchSize:        500,
			SampleLimit:      20,
			CheckpointEvery:  1,
			ConnectTimeoutMS: 5000,
		},
		Queue: QueueConfig{
			Workers:       2,
			MaxAttempts:   3,
			BackoffBaseMS: 2000,
			RetainJobs:    200,
		},
		RateLimit: RateLimitConfig{
			Sync:    RateLimitBudget{Max: 10, WindowMS: 60000},
			Schema:  RateLimitBudget{Max: 30, WindowMS: 60000},
			Execute: RateLimitBudget{Max: 20, WindowMS: 60000},
			Read:    RateLimitBudget{Max: 60, WindowMS: 60000},
			Admin:   RateLimitBudget{Max: 30, WindowMS: 60000},
		},
	}
}
