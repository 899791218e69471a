package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, "0.0.0.0", config.Server.ListenAddress, "API监听地址应为0.0.0.0")
	assert.Equal(t, 8000, config.Server.Port, "API端口应为8000")
	assert.Equal(t, "localhost", config.Database.Host, "数据库主机应为localhost")
	assert.Equal(t, 3306, config.Database.Port, "数据库端口应为3306")
	assert.Equal(t, "service_registry", config.Database.DBName, "数据库名应为service_registry")
	assert.Equal(t, 5, config.Database.OpTimeout, "存储操作超时应为5秒")
	assert.Equal(t, 8600, config.DNS.Port, "DNS端口应为8600")
	assert.Equal(t, "registry.local", config.DNS.Domain, "DNS服务域应为registry.local")
	assert.Equal(t, 300, config.Health.StaleTTL, "过期TTL应为300秒")
	assert.Equal(t, 60, config.Health.SweepInterval, "清理周期应为60秒")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	os.Setenv("REGISTRY_SERVER_PORT", "9000")
	os.Setenv("REGISTRY_DATABASE_HOST", "db.internal")
	os.Setenv("REGISTRY_HEALTH_STALE_TTL", "120")
	defer func() {
		os.Unsetenv("REGISTRY_SERVER_PORT")
		os.Unsetenv("REGISTRY_DATABASE_HOST")
		os.Unsetenv("REGISTRY_HEALTH_STALE_TTL")
	}()

	// 加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, 9000, config.Server.Port, "环境变量应正确覆盖API端口")
	assert.Equal(t, "db.internal", config.Database.Host, "环境变量应正确覆盖数据库主机")
	assert.Equal(t, 120, config.Health.StaleTTL, "环境变量应正确覆盖过期TTL")

	// 确认其他值不受影响
	assert.Equal(t, 8600, config.DNS.Port, "DNS端口不应被环境变量影响")
}

func TestLoadConfigFromFile(t *testing.T) {
	// 写入临时配置文件
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 8080
database:
  dbname: registry_test
dns:
  enabled: false
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	// 从文件加载配置
	config, err := LoadConfig(path)
	require.NoError(t, err, "无法从文件加载配置")

	// 文件值覆盖默认值
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "registry_test", config.Database.DBName)
	assert.False(t, config.DNS.Enabled, "DNS应被配置文件禁用")

	// 未出现在文件中的字段保持默认值
	assert.Equal(t, "localhost", config.Database.Host)
	assert.Equal(t, 300, config.Health.StaleTTL)
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	// 应该返回错误
	assert.Error(t, err, "从不存在的文件加载配置应该失败")

	// 不应该返回配置对象
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}
