package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pgx/v5"

	"github.com/quillstone/dbguard/pkg/driver"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(driver.ConnParams{
		Host:     "db.internal",
		Port:     6543,
		Database: "orders",
		Username: "app",
		Password: "s3cret",
		SSLMode:  "require",
	})
	assert.Equal(t, "host=db.internal port=6543 dbname=orders user=app password=s3cret sslmode=require", dsn)
}

func TestBuildDSNOmitsEmptyFields(t *testing.T) {
	dsn := buildDSN(driver.ConnParams{Host: "db", Database: "app"})
	assert.Equal(t, "host=db dbname=app", dsn)
}

func TestBuildDSNQuotesSpecialValues(t *testing.T) {
	dsn := buildDSN(driver.ConnParams{
		Host:     "db",
		Database: "app",
		Username: "svc",
		Password: "p4ss word's",
	})
	assert.Contains(t, dsn, `password='p4ss word\'s'`)

	// pgx must be able to parse the quoted form back
	cfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)
	assert.Equal(t, "p4ss word's", cfg.Password)
}

func TestDriverType(t *testing.T) {
	assert.Equal(t, "postgres", New().Type())
}
