package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// HTTP API服务配置
	Server struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"server"`

	// MySQL数据库配置
	Database struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"dbname"`
		Timeout      string `mapstructure:"timeout"`       // 连接超时，如 "10s"
		OpTimeout    int    `mapstructure:"op_timeout"`    // 单次存储操作超时（秒）
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		Debug        bool   `mapstructure:"debug"`
	} `mapstructure:"database"`

	// DNS发现服务配置
	DNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Domain        string `mapstructure:"domain"`     // 服务域，如 registry.local
		RecordTTL     int    `mapstructure:"record_ttl"` // DNS记录TTL（秒）
	} `mapstructure:"dns"`

	// 健康与过期清理配置
	Health struct {
		StaleTTL      int `mapstructure:"stale_ttl"`      // 超过该秒数未上报视为过期
		SweepInterval int `mapstructure:"sweep_interval"` // 过期清理周期（秒）
	} `mapstructure:"health"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")                  // 配置文件名（无扩展名）
		v.AddConfigPath(".")                       // 当前目录
		v.AddConfigPath("./configs")               // configs目录
		v.AddConfigPath("$HOME/.service-registry") // 用户目录
		v.AddConfigPath("/etc/service-registry")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅记录警告；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 从环境变量覆盖
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// HTTP API服务默认配置
	v.SetDefault("server.listen_address", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	// 数据库默认配置
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "registry")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "service_registry")
	v.SetDefault("database.timeout", "10s")
	v.SetDefault("database.op_timeout", 5)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.debug", false)

	// DNS发现服务默认配置
	v.SetDefault("dns.enabled", true)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 8600)
	v.SetDefault("dns.domain", "registry.local")
	v.SetDefault("dns.record_ttl", 30)

	// 健康与过期清理默认配置
	v.SetDefault("health.stale_ttl", 300)
	v.SetDefault("health.sweep_interval", 60)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("server.port", "REGISTRY_SERVER_PORT")
	v.BindEnv("database.host", "REGISTRY_DATABASE_HOST")
	v.BindEnv("database.port", "REGISTRY_DATABASE_PORT")
	v.BindEnv("database.user", "REGISTRY_DATABASE_USER")
	v.BindEnv("database.password", "REGISTRY_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "REGISTRY_DATABASE_DBNAME")
	v.BindEnv("dns.port", "REGISTRY_DNS_PORT")
	v.BindEnv("health.stale_ttl", "REGISTRY_HEALTH_STALE_TTL")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	// 按顺序检查不同位置的配置文件
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.service-registry/config.yaml",
		"/etc/service-registry/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
