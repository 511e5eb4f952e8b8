package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `
-- header comment
CREATE TABLE a (x UInt64) ENGINE = MergeTree() ORDER BY x;

-- second
CREATE TABLE b (
    y String
) ENGINE = MergeTree()
ORDER BY y;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.True(t, strings.HasSuffix(stmts[1], "ORDER BY y"))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'it''s'; SELECT 1;`))
	assert.Error(t, validateNoSemicolonInStrings(`SELECT 'a;b';`))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/carmarket")
	require.NoError(t, err)
	assert.Equal(t, "carmarket", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, tc := range []struct {
		fsys fs.FS
		dir  string
	}{
		{PostgresFS, "postgres"},
		{ClickhouseFS, "clickhouse"},
	} {
		entries, err := fs.ReadDir(tc.fsys, tc.dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries, tc.dir)

		for _, e := range entries {
			data, err := fs.ReadFile(tc.fsys, tc.dir+"/"+e.Name())
			require.NoError(t, err)
			assert.NoError(t, validateNoSemicolonInStrings(string(data)), e.Name())
			assert.NotEmpty(t, splitStatements(string(data)), e.Name())
		}
	}
}
