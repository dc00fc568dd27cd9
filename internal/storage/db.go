package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"netmonitor/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Options 数据库配置
type Options struct {
	DSN    string
	Prefix string
	Logger logger.Logger
	// Verbose 为 true 时记录每条 SQL
	Verbose bool
}

// Open 打开 sqlite 数据库并迁移表结构
func Open(opts Options) (*gorm.DB, error) {
	if dir := filepath.Dir(opts.DSN); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	level := gormlogger.Warn
	if opts.Verbose {
		level = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
		Logger:         NewGormLogger(opts.Logger).LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// sqlite 只允许一个写连接
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RuleRecord{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
