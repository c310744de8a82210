package route

import domainauth "github.com/target/clinic-session/internal/domain/auth"

// RoleHome maps a role to its landing route.
type RoleHome struct {
	Role  domainauth.Role
	Route Name
}

// RoleHomePolicy is a ranked list; the first entry whose role the user holds wins.
type RoleHomePolicy []RoleHome

// DefaultRoleHomePolicy ranks Admin > Doctor > Patient.
func DefaultRoleHomePolicy() RoleHomePolicy {
	return RoleHomePolicy{
		{Role: domainauth.RoleAdmin, Route: AdminDashboard},
		{Role: domainauth.RoleDoctor, Route: DoctorDashboard},
		{Role: domainauth.RolePatient, Route: PatientDashboard},
	}
}

// HomeFor returns the home route of the highest-ranked role in roles.
func (p RoleHomePolicy) HomeFor(roles domainauth.Roles) (Name, bool) {
	for _, rh := range p {
		if roles.Has(rh.Role) {
			return rh.Route, true
		}
	}
	return "", false
}
