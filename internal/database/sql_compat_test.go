package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertPlaceholdersSQLite(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "sqlite")
	q := ConvertPlaceholders("SELECT * FROM tickets WHERE id = ? AND status = ?")
	assert.Equal(t, "SELECT * FROM tickets WHERE id = ? AND status = ?", q)
}

func TestConvertPlaceholdersPostgres(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "postgres")
	q := ConvertPlaceholders("UPDATE tickets SET status = ? WHERE id = ?")
	assert.Equal(t, "UPDATE tickets SET status = $1 WHERE id = $2", q)
}

func TestConvertPlaceholdersRejectsDollar(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "postgres")
	assert.Panics(t, func() {
		ConvertPlaceholders("SELECT * FROM tickets WHERE id = $1")
	})
}

func TestDriverDefault(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "")
	t.Setenv("ZAPDESK_DATABASE_DRIVER", "")
	assert.Equal(t, "sqlite", Driver())
	assert.True(t, IsSQLite())
	assert.False(t, IsMySQL())
	assert.False(t, IsPostgreSQL())
}
