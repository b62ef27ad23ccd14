package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envmatrix/envmatrix/internal/models"
)

func TestDefaultBasePython(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"py34", "py34", "python3.4"},
		{"py27", "py27", "python2.7"},
		{"py311", "py311", "python3.11"},
		{"pypy", "pypy", "pypy"},
		{"docs", "docs", "python3"},
		{"docs_rtd", "docs_rtd", "python3"},
		{"empty", "", "python3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.DefaultBasePython(tt.env))
		})
	}
}

func TestEnvDefinitionValidate(t *testing.T) {
	valid := func() *models.EnvDefinition {
		return &models.EnvDefinition{
			Name:       "py34",
			BasePython: "python3.4",
			Commands:   []string{"py.test"},
			Isolation:  models.IsolationVenv,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.EnvDefinition)
		wantErr bool
	}{
		{
			name:    "valid venv env",
			mutate:  func(d *models.EnvDefinition) {},
			wantErr: false,
		},
		{
			name:    "missing name",
			mutate:  func(d *models.EnvDefinition) { d.Name = "" },
			wantErr: true,
		},
		{
			name:    "no commands",
			mutate:  func(d *models.EnvDefinition) { d.Commands = nil },
			wantErr: true,
		},
		{
			name:    "missing basepython",
			mutate:  func(d *models.EnvDefinition) { d.BasePython = "" },
			wantErr: true,
		},
		{
			name: "container without image",
			mutate: func(d *models.EnvDefinition) {
				d.Isolation = models.IsolationContainer
			},
			wantErr: true,
		},
		{
			name: "container with image",
			mutate: func(d *models.EnvDefinition) {
				d.Isolation = models.IsolationContainer
				d.ContainerImage = "python:3.4"
			},
			wantErr: false,
		},
		{
			name:    "unknown isolation",
			mutate:  func(d *models.EnvDefinition) { d.Isolation = "chroot" },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(d *models.EnvDefinition) { d.Timeout = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(def)
			err := def.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
