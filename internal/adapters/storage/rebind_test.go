package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	q := `SELECT * FROM trades WHERE market_id = ? AND account = ? LIMIT ?`
	assert.Equal(t, q, rebind("sqlite", q))
	assert.Equal(t,
		`SELECT * FROM trades WHERE market_id = $1 AND account = $2 LIMIT $3`,
		rebind("pgx", q))
}
