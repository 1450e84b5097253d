package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gendialogue/dialogue-backend/internal/config"
)

func TestDriverName(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{driver: "", want: "postgres"},
		{driver: "postgres", want: "postgres"},
		{driver: "pgx", want: "pgx"},
		{driver: "pgx/v4", want: "pgx"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			assert.Equal(t, tt.want, DriverName(config.DatabaseConfig{Driver: tt.driver}))
		})
	}
}

func TestGetDSN(t *testing.T) {
	dsn := GetDSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "dialogue",
		Password: "secret",
		Database: "dialogues",
		SSLMode:  "disable",
	})
	assert.Equal(t, "postgres://dialogue:secret@db:5433/dialogues?sslmode=disable", dsn)
}
