package broker

import (
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// OpenDB connects to the administrative database. Migration only covers the
// two tables this pipeline writes; printers is owned by the admin
// application.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PrintHistory{}, &ServiceRequest{}); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenTestDB opens a throwaway SQLite database carrying the full schema,
// including printers, so tests can seed devices.
func OpenTestDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Printer{}, &PrintHistory{}, &ServiceRequest{}); err != nil {
		return nil, err
	}
	return db, nil
}
