package db

import "testing"

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@host:5432/db", "pgx5://u:p@host:5432/db"},
		{"postgresql://u:p@host/db?sslmode=disable", "pgx5://u:p@host/db?sslmode=disable"},
		{"u:p@host/db", "pgx5://u:p@host/db"},
	}
	for _, tt := range tests {
		if got := migrationURL(tt.in); got != tt.want {
			t.Errorf("migrationURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
