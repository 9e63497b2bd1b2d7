package db

import (
	"faceserver/config"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Instance *gorm.DB

func Init() {
	var dialector gorm.Dialector
	if config.MYSQL_DSN != "" {
		dialector = mysql.Open(config.MYSQL_DSN)
		logrus.Info("Using MySQL database")
	} else {
		dialector = sqlite.Open(config.SQLITE_FILE)
		logrus.Infof("Using SQLite database %s", config.SQLITE_FILE)
	}
	db, err := Open(dialector)
	if err != nil || db == nil {
		panic(err)
	}
	Instance = db
}

func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	}
	if !config.DEBUG_MODE {
		gormConfig.Logger = logger.Default.LogMode(logger.Warn)
	}
	return gorm.Open(dialector, gormConfig)
}
