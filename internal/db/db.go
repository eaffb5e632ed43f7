package db

import (
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens the audit store. An empty DSN means a local sqlite file,
// which keeps single-node deployments free of a MySQL dependency.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return gorm.Open(gormsqlite.Open("clinic-gateway.db"), &gorm.Config{})
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{})
}
