// Package repository persists and queries environment run records.
package repository

import (
	"fmt"

	"github.com/theblitlabs/gologger"
	"gorm.io/gorm"

	"github.com/envmatrix/envmatrix/internal/models"
)

// RunRepository stores run history.
type RunRepository interface {
	SaveRun(record *models.RunRecord) error
	ListRecent(limit int) ([]models.RunRecord, error)
	ListByEnv(envName string, limit int) ([]models.RunRecord, error)
	Prune(keep int) error
}

type GormRunRepository struct {
	db *gorm.DB
}

func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

func (r *GormRunRepository) SaveRun(record *models.RunRecord) error {
	log := gologger.WithComponent("run_repo")

	for i := range record.Commands {
		record.Commands[i].RunID = record.ID
		record.Commands[i].Clean()
	}

	if err := r.db.Save(record).Error; err != nil {
		log.Error().Err(err).Str("run_id", record.ID.String()).Msg("Failed to save run record")
		return fmt.Errorf("failed to save run record: %w", err)
	}

	log.Debug().
		Str("run_id", record.ID.String()).
		Str("env", record.EnvName).
		Str("status", string(record.Status)).
		Msg("Run record saved")
	return nil
}

func (r *GormRunRepository) ListRecent(limit int) ([]models.RunRecord, error) {
	var records []models.RunRecord
	err := r.db.Preload("Commands").
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	return records, nil
}

func (r *GormRunRepository) ListByEnv(envName string, limit int) ([]models.RunRecord, error) {
	var records []models.RunRecord
	err := r.db.Preload("Commands").
		Where("env_name = ?", envName).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list run records for %s: %w", envName, err)
	}
	return records, nil
}

// Prune deletes all but the newest keep records.
func (r *GormRunRepository) Prune(keep int) error {
	var cutoff []models.RunRecord
	err := r.db.Order("started_at DESC").
		Offset(keep).
		Limit(1).
		Find(&cutoff).Error
	if err != nil {
		return fmt.Errorf("failed to find prune cutoff: %w", err)
	}
	if len(cutoff) == 0 {
		return nil
	}

	tx := r.db.Where("started_at <= ?", cutoff[0].StartedAt).Delete(&models.RunRecord{})
	if tx.Error != nil {
		return fmt.Errorf("failed to prune run records: %w", tx.Error)
	}

	if tx.RowsAffected > 0 {
		log := gologger.WithComponent("run_repo")
		log.Debug().Int64("pruned", tx.RowsAffected).Msg("Old run records pruned")
	}
	return nil
}
