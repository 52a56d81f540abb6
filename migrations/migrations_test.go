package migrations

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var createTableRe = regexp.MustCompile(`(?i)CREATE TABLE (\w+)`)

// The repositories hard-code these table names; the schema must create every
// one of them, and the down migration must drop what the up migration creates.
func TestSchemaCreatesRepositoryTables(t *testing.T) {
	up, err := files.ReadFile("000001_init.up.sql")
	require.NoError(t, err)

	created := map[string]bool{}
	for _, m := range createTableRe.FindAllStringSubmatch(string(up), -1) {
		created[strings.ToLower(m[1])] = true
	}

	for _, table := range []string{"users", "roles", "role_assignments", "sessions", "audit_events"} {
		assert.True(t, created[table], "schema does not create table %s", table)
	}

	down, err := files.ReadFile("000001_init.down.sql")
	require.NoError(t, err)
	for table := range created {
		assert.Contains(t, strings.ToLower(string(down)), "drop table if exists "+table,
			"down migration does not drop %s", table)
	}
}
