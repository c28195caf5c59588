package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Artifact struct {
	ID          string            `gorm:"type:text;primaryKey"`
	Name        string            `gorm:"type:text;not null;index"`
	Description string            `gorm:"type:text;not null;default:''"`
	Score       float64           `gorm:"type:double precision;not null"`
	Metrics     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	Version     string            `gorm:"type:text"`
	License     string            `gorm:"type:text"`
	Author      string            `gorm:"type:text"`
	Parents     datatypes.JSON    `gorm:"type:jsonb"`
	DownloadURL string            `gorm:"type:text;not null"`
	Signature   string            `gorm:"type:text"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_artifacts_created_at,sort:desc"`
	UpdatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Locator     string         `gorm:"type:text;not null"`
	State       string         `gorm:"type:text;not null;index"`
	Attempts    int            `gorm:"type:int;not null;default:0"`
	MaxAttempts int            `gorm:"type:int;not null;default:3"`
	Deadline    *time.Time     `gorm:"type:timestamptz"`
	LastError   string         `gorm:"type:text"`
	ArtifactID  *string        `gorm:"type:text"`
	LogKey      string         `gorm:"type:text"`
	Parents     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Artifact{},
		&Job{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Job{},
		&Artifact{},
	)
}
