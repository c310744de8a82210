package authroles

import (
	"strings"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	"github.com/target/clinic-session/internal/ports"
)

// StaticRoleMapper maps provider groups to roles by exact group name.
// A user in several mapped groups holds every matching role, in Admin, Doctor, Patient order.
type StaticRoleMapper struct {
	AdminGroup   string
	DoctorGroup  string
	PatientGroup string
}

var _ ports.RoleMapper = StaticRoleMapper{}

func (m StaticRoleMapper) Map(groups []string) domainauth.Roles {
	member := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			member[g] = struct{}{}
		}
	}

	var roles domainauth.Roles
	for _, rule := range []struct {
		group string
		role  domainauth.Role
	}{
		{m.AdminGroup, domainauth.RoleAdmin},
		{m.DoctorGroup, domainauth.RoleDoctor},
		{m.PatientGroup, domainauth.RolePatient},
	} {
		if rule.group == "" {
			continue
		}
		if _, ok := member[rule.group]; ok {
			roles = append(roles, rule.role)
		}
	}
	return roles
}

// RoleNameMapper treats group values as role names (the backend's "roles": [{"name": ...}] shape
// flattened by a claim expression). Unknown names are dropped.
type RoleNameMapper struct{}

var _ ports.RoleMapper = RoleNameMapper{}

func (RoleNameMapper) Map(groups []string) domainauth.Roles {
	var roles domainauth.Roles
	for _, g := range groups {
		r := domainauth.Role(g).Canonical()
		switch r {
		case domainauth.RoleAdmin, domainauth.RoleDoctor, domainauth.RolePatient:
			if !roles.Contains(r) {
				roles = append(roles, r)
			}
		}
	}
	return roles
}
