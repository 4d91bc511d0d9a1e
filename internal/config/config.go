// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Backend BackendConfig `mapstructure:"backend"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Mock    MockConfig    `mapstructure:"mock"`
	MinIO   MinIOConfig   `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// SessionConfig 存储会话令牌相关的配置。
type SessionConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
	// VerifyCredential 控制是否校验身份提供方凭证的签名。
	// 凭证由外部身份提供方签发，开发环境下通常只做解码。
	VerifyCredential bool   `mapstructure:"verify_credential"`
	CredentialSecret string `mapstructure:"credential_secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// HistoryConfig 存储会话历史持久化相关的配置。
// Backend 可选 "file"（默认）或 "redis"。
type HistoryConfig struct {
	Backend string      `mapstructure:"backend"`
	DataDir string      `mapstructure:"data_dir"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BackendConfig 存储图像处理后端（process 接口）相关的配置。
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// UploadConfig 存储附件校验相关的配置。
type UploadConfig struct {
	// AllowedTypes 为允许的 MIME 类型列表，为空时使用内置白名单。
	AllowedTypes []string `mapstructure:"allowed_types"`
	// MaxFileSize 为单个附件的字节数上限，为 0 时使用默认 10MiB。
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

// MockConfig 存储模拟处理后端相关的配置。
type MockConfig struct {
	// DelayMillis 为模拟处理耗时（毫秒）。
	DelayMillis int `mapstructure:"delay_millis"`
	// ImageTTLMinutes 为图片暂存的过期时间（分钟）。
	ImageTTLMinutes int `mapstructure:"image_ttl_minutes"`
	// ImageStore 可选 "memory"（默认）或 "minio"。
	ImageStore string `mapstructure:"image_store"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
