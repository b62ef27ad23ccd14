package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/models"
	"github.com/envmatrix/envmatrix/internal/storage/db"
	"github.com/envmatrix/envmatrix/internal/storage/repository"
)

// RunHistory prints persisted run records, optionally filtered to one
// environment.
func RunHistory(configPath, toolConfigPath, envName string, limit int) error {
	cfg, err := config.LoadConfig(toolConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load tool config: %w", err)
	}

	project, err := loadProject(configPath)
	if err != nil {
		return err
	}

	path := cfg.History.Path
	if path == "" {
		path = filepath.Join(project.WorkDir, "history.db")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no run history at %s", path)
	}

	service, err := db.Open(path)
	if err != nil {
		return err
	}
	defer service.Close()

	repo := repository.NewGormRunRepository(service.GetDB())

	if limit <= 0 {
		limit = 20
	}

	var records []models.RunRecord
	if envName != "" {
		records, err = repo.ListByEnv(envName, limit)
	} else {
		records, err = repo.ListRecent(limit)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tENV\tSTATUS\tDURATION\tCOMMANDS\tREASON")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.EnvName,
			r.Status,
			r.Duration().Round(time.Millisecond),
			len(r.Commands),
			r.Reason,
		)
	}
	return w.Flush()
}
