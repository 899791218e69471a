// Package mysql 提供MySQL连接的初始化与表结构迁移
package mysql

import (
	"fmt"
	"time"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
)

// NewClient 按配置建立MySQL连接池并自动迁移注册中心的两张表
// TranslateError 开启后唯一索引冲突可统一按 gorm.ErrDuplicatedKey 判断
func NewClient(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&collation=utf8mb4_general_ci&parseTime=True&loc=Local&timeout=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.Timeout,
	)

	gormCfg := &gorm.Config{
		TranslateError: true,
	}
	if cfg.Database.Debug {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	} else {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	db, err := gorm.Open(gormmysql.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// services 与 service_events 两张表，外键级联删除由迁移建立
	if err := db.AutoMigrate(&model.Service{}, &model.ServiceEvent{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return db, nil
}
