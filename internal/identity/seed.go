package identity

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// SeedFile lists users to provision per tenant.
//
//	tenants:
//	  - id: acme
//	    users:
//	      - username: admin
//	        password: change-me-now
//	        roles: [admin]
type SeedFile struct {
	Tenants []SeedTenant `yaml:"tenants"`
}

// SeedTenant groups the users of one tenant.
type SeedTenant struct {
	ID    string     `yaml:"id"`
	Users []SeedUser `yaml:"users"`
}

// SeedUser is one account to create.
type SeedUser struct {
	Username    string   `yaml:"username"`
	DisplayName string   `yaml:"display_name"`
	Password    string   `yaml:"password"`
	Roles       []string `yaml:"roles"`
}

// SeedReport counts what Seed did.
type SeedReport struct {
	Created int
	Skipped int
}

// ParseSeed decodes a seed document. Unknown keys are rejected.
func ParseSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return SeedFile{}, nil
		}
		return SeedFile{}, fmt.Errorf("identity: parse seed: %w", err)
	}
	return f, nil
}

// Seed creates every listed user. Existing users are skipped, so Seed can
// run on every deploy.
func (d *Directory) Seed(ctx context.Context, f SeedFile) (SeedReport, error) {
	var rep SeedReport
	for _, t := range f.Tenants {
		if _, ok := NormalizeTenant(t.ID); !ok {
			return rep, invalid("identity.Seed", fmt.Sprintf("invalid tenant id %q", t.ID))
		}
		for _, u := range t.Users {
			_, err := d.Register(ctx, RegisterInput{
				TenantID:    t.ID,
				Username:    u.Username,
				DisplayName: u.DisplayName,
				Password:    u.Password,
				Roles:       u.Roles,
			})
			switch {
			case err == nil:
				rep.Created++
			case IsConflict(err):
				rep.Skipped++
			default:
				return rep, fmt.Errorf("seed %s/%s: %w", t.ID, u.Username, err)
			}
		}
	}
	return rep, nil
}
