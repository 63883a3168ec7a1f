package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardAccepts(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"select", "SELECT name FROM fact_game_metrics", "SELECT name FROM fact_game_metrics"},
		{"trailing semicolon", "SELECT 1;  ", "SELECT 1"},
		{"cte", "WITH t AS (SELECT 1 AS n) SELECT n FROM t", "WITH t AS (SELECT 1 AS n) SELECT n FROM t"},
		{"keyword inside literal", "SELECT name FROM fact_game_metrics WHERE name = 'Drop; Delete'", "SELECT name FROM fact_game_metrics WHERE name = 'Drop; Delete'"},
		{"escaped quote", "SELECT 'it''s' AS s", "SELECT 'it''s' AS s"},
		{"quoted identifier", `SELECT "update" FROM t`, `SELECT "update" FROM t`},
		{"comment", "SELECT 1 -- insert later\n", "SELECT 1 -- insert later"},
		{"lowercase", "select avg(avg_hours_played) from fact_game_metrics", "select avg(avg_hours_played) from fact_game_metrics"},
		{"underscored identifier", "SELECT release_date, offset_days FROM t", "SELECT release_date, offset_days FROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Guard(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuardRejects(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"empty", "   "},
		{"insert", "INSERT INTO t VALUES (1)"},
		{"drop", "DROP TABLE fact_game_metrics"},
		{"stacked", "SELECT 1; DROP TABLE t"},
		{"writable cte", "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d"},
		{"select into", "SELECT * INTO backup FROM t"},
		{"pragma", "PRAGMA writable_schema = 1"},
		{"attach", "ATTACH DATABASE 'x.db' AS x"},
		{"prose", "I cannot answer that"},
		{"unterminated", "SELECT 'abc"},
		{"hidden in block comment end", "SELECT 1 /* x */; UPDATE t SET a = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Guard(tt.sql)
			assert.ErrorIs(t, err, ErrRejected)
		})
	}
}
