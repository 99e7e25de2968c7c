package dao

import (
	"fmt"
	"study-agent-backend/config"
	"study-agent-backend/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	db, err := gorm.Open(mysql.Open(config.Cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&model.User{},
		&model.FileMetadata{},
		&model.Session{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("failed to migrate tables: %v", err)
	}

	DB = db
	return nil
}
