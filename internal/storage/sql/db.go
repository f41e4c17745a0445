// Package sql stores chats, preferences and syllabi in a relational database
// through GORM. SQLite and MySQL are supported.
package sql

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

type chatRecord struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Title     string          `gorm:"size:64;not null"`
	Preview   string          `gorm:"size:128"`
	Subject   string          `gorm:"size:64;index"`
	CreatedAt time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime:false;index"`
	Messages  []messageRecord `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (chatRecord) TableName() string { return "chats" }

type messageRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	ChatID    string    `gorm:"size:36;not null;index:idx_chat_position,priority:1"`
	Position  int       `gorm:"not null;index:idx_chat_position,priority:2"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
}

func (messageRecord) TableName() string { return "messages" }

type preferencesRecord struct {
	OwnerID       string  `gorm:"primaryKey;size:128"`
	Theme         string  `gorm:"size:8;not null"`
	SidebarOpen   bool    `gorm:"not null"`
	SubjectFilter *string `gorm:"size:64"`
}

func (preferencesRecord) TableName() string { return "preferences" }

type syllabusRecord struct {
	OwnerID    string    `gorm:"primaryKey;size:128"`
	FileName   string    `gorm:"size:255;not null"`
	Data       []byte    `gorm:"not null"`
	UploadedAt time.Time `gorm:"not null"`
}

func (syllabusRecord) TableName() string { return "syllabi" }

// AllModels returns the GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&chatRecord{},
		&messageRecord{},
		&preferencesRecord{},
		&syllabusRecord{},
	}
}

// Open connects to the database and migrates the schema.
func Open(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("db: unknown dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer; in-memory databases exist per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err = AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
