package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes knowledge-base helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed knowledge base at the provided path.
func Open(path string, silent bool) (*Database, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is empty")
	}
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Drug{}, &Interaction{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertDrugs inserts new drugs and refreshes the metadata of existing ones.
// Existing rows keep their original position.
func (d *Database) UpsertDrugs(drugs []Drug) error {
	if d == nil {
		return errors.New("database is nil")
	}
	if len(drugs) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		const batchSize = 250
		for start := 0; start < len(drugs); start += batchSize {
			end := start + batchSize
			if end > len(drugs) {
				end = len(drugs)
			}
			batch := drugs[start:end]
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "drug_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "type", "drug_class", "indication", "updated_at"}),
			}).CreateInBatches(batch, batchSize).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceInteractions swaps the stored interaction edges with the provided slice.
func (d *Database) ReplaceInteractions(rows []Interaction) error {
	if d == nil {
		return errors.New("database is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Interaction{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		// Batch insert to avoid SQLite variable limit (999)
		const batchSize = 150
		for start := 0; start < len(rows); start += batchSize {
			end := start + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := tx.CreateInBatches(rows[start:end], batchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDrugs returns every drug in import order.
func (d *Database) ListDrugs() ([]Drug, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	var rows []Drug
	if err := d.gorm.Model(&Drug{}).Order("position ASC, drug_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListInteractions returns interaction edges ordered by insertion.
func (d *Database) ListInteractions(limit int) ([]Interaction, error) {
	if d == nil {
		return nil, errors.New("database is nil")
	}
	query := d.gorm.Model(&Interaction{}).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Interaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MaxDrugPosition returns the highest stored position, or 0 when empty.
func (d *Database) MaxDrugPosition() (int, error) {
	if d == nil {
		return 0, errors.New("database is nil")
	}
	var pos int
	if err := d.gorm.Model(&Drug{}).Select("COALESCE(MAX(position), 0)").Row().Scan(&pos); err != nil {
		return 0, err
	}
	return pos, nil
}

// CountDrugs returns the number of drug rows.
func (d *Database) CountDrugs() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Drug{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountInteractions returns the number of interaction rows.
func (d *Database) CountInteractions() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Interaction{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_interactions_pair ON interactions(drug1_id, drug2_id)",
		"CREATE INDEX IF NOT EXISTS idx_drugs_class_position ON drugs(drug_class, position)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
