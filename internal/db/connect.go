package db

import (
	"fmt"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/nexguard/nexbot/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN with parseTime enabled from the storage settings.
func DSN(c config.MySQLConfig) string {
	mc := gomysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Connect opens a GORM connection using the configured storage driver.
func Connect(c config.StorageConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	var target string
	switch c.Driver {
	case "mysql":
		dialector = mysql.Open(DSN(c.MySQL))
		target = fmt.Sprintf("%s:%d/%s", c.MySQL.Host, c.MySQL.Port, c.MySQL.Database)
	case "sqlite", "":
		dialector = sqlite.Open(c.Path)
		target = c.Path
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", target, err)
	}
	return db, nil
}
