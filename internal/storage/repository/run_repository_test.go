package repository_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envmatrix/envmatrix/internal/models"
	"github.com/envmatrix/envmatrix/internal/storage/db"
	"github.com/envmatrix/envmatrix/internal/storage/repository"
)

func newTestRepository(t *testing.T) (*repository.GormRunRepository, *db.Service) {
	t.Helper()

	service, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	require.NoError(t, service.Migrate(&models.RunRecord{}, &models.CommandRecord{}))
	return repository.NewGormRunRepository(service.GetDB()), service
}

func newRecord(env string, status models.RunStatus, startedAt time.Time) *models.RunRecord {
	record := models.NewRunRecord(env, "/proj/matrix.ini")
	record.StartedAt = startedAt
	record.Status = status
	record.Commands = []models.CommandRecord{
		{Seq: 0, Command: "py.test", ExitCode: 0, OutputTail: "4 passed\n"},
	}
	return record
}

func TestSaveAndListRecent(t *testing.T) {
	repo, _ := newTestRepository(t)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.SaveRun(newRecord("py34", models.RunStatusSucceeded, base.Add(-2*time.Minute))))
	require.NoError(t, repo.SaveRun(newRecord("docs", models.RunStatusFailed, base.Add(-time.Minute))))
	require.NoError(t, repo.SaveRun(newRecord("py34", models.RunStatusSucceeded, base)))

	records, err := repo.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "py34", records[0].EnvName)
	assert.Equal(t, "docs", records[1].EnvName)
	assert.Equal(t, "py34", records[2].EnvName)

	// Commands come back with the run, trimmed of trailing whitespace.
	require.Len(t, records[0].Commands, 1)
	assert.Equal(t, "py.test", records[0].Commands[0].Command)
	assert.Equal(t, "4 passed", records[0].Commands[0].OutputTail)
}

func TestListRecentHonorsLimit(t *testing.T) {
	repo, _ := newTestRepository(t)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveRun(newRecord("py34", models.RunStatusSucceeded, base.Add(time.Duration(i)*time.Second))))
	}

	records, err := repo.ListRecent(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestListByEnv(t *testing.T) {
	repo, _ := newTestRepository(t)
	base := time.Now().UTC()

	require.NoError(t, repo.SaveRun(newRecord("py34", models.RunStatusSucceeded, base.Add(-time.Minute))))
	require.NoError(t, repo.SaveRun(newRecord("docs", models.RunStatusFailed, base)))

	records, err := repo.ListByEnv("docs", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "docs", records[0].EnvName)
	assert.Equal(t, models.RunStatusFailed, records[0].Status)

	records, err = repo.ListByEnv("missing", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPruneKeepsNewest(t *testing.T) {
	repo, service := newTestRepository(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveRun(newRecord("py34", models.RunStatusSucceeded, base.Add(time.Duration(i)*time.Minute))))
	}

	require.NoError(t, repo.Prune(2))

	records, err := repo.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].StartedAt.After(records[1].StartedAt))

	// Pruned runs take their command rows with them.
	var commandRows int64
	require.NoError(t, service.GetDB().Model(&models.CommandRecord{}).Count(&commandRows).Error)
	assert.Equal(t, int64(2), commandRows)
}

func TestPruneBelowThresholdIsNoop(t *testing.T) {
	repo, _ := newTestRepository(t)

	require.NoError(t, repo.SaveRun(newRecord("py34", models.RunStatusSucceeded, time.Now().UTC())))
	require.NoError(t, repo.Prune(50))

	records, err := repo.ListRecent(10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
