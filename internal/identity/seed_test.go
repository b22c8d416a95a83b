package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedDoc = `
tenants:
  - id: acme
    users:
      - username: admin
        display_name: Acme Admin
        password: change-me-now
        roles: [admin, user]
      - username: john
        password: john-password
  - id: globex
    users:
      - username: admin
        password: globex-password
`

func TestParseSeed(t *testing.T) {
	f, err := ParseSeed(strings.NewReader(seedDoc))
	require.NoError(t, err)
	require.Len(t, f.Tenants, 2)
	assert.Equal(t, "acme", f.Tenants[0].ID)
	assert.Equal(t, []string{"admin", "user"}, f.Tenants[0].Users[0].Roles)
}

func TestParseSeed_UnknownField(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("tenants:\n  - id: a\n    colour: red\n"))
	require.Error(t, err)
}

func TestParseSeed_Empty(t *testing.T) {
	f, err := ParseSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Tenants)
}

func TestDirectory_Seed_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	f, err := ParseSeed(strings.NewReader(seedDoc))
	require.NoError(t, err)

	rep, err := d.Seed(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{Created: 3}, rep)

	rep, err = d.Seed(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{Skipped: 3}, rep)

	p, err := d.Authenticate(ctx, "globex", "admin", "globex-password")
	require.NoError(t, err)
	assert.Equal(t, "globex", p.TenantID)
}

func TestDirectory_Seed_RejectsBadTenant(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.Seed(context.Background(), SeedFile{Tenants: []SeedTenant{{ID: "Bad Tenant"}}})
	assert.True(t, IsInvalidInput(err))
}
