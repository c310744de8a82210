// Package route declares the static route-requirement table consulted by the navigation guard
// and the ordered role-home policy used when redirecting authenticated users.
package route

import (
	"fmt"
	"strings"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
)

// Name identifies a route.
type Name string

// Well-known route names.
const (
	Home                      Name = "home"
	Login                     Name = "login"
	Register                  Name = "register"
	Patients                  Name = "patients"
	PatientDetail             Name = "patients-detail"
	Doctors                   Name = "doctors"
	Appointments              Name = "appointments"
	AllAppointments           Name = "all-appointments"
	AdminServices             Name = "admin.services"
	AdminDashboard            Name = "admin.dashboard"
	DoctorDashboard           Name = "doctor.dashboard"
	PatientDashboard          Name = "patient.dashboard"
	PatientAppointmentHistory Name = "patient.appointmentHistory"
	PublicDoctors             Name = "public.doctors"
)

// Requirement is the per-route access metadata.
type Requirement struct {
	RequiresAuth bool
	RequiredRole domainauth.Role // empty when any authenticated user may enter
}

// Route binds a name and path pattern to its requirement.
// Path segments starting with ':' match any single segment.
type Route struct {
	Name        Name
	Path        string
	Requirement Requirement
}

// Table is an immutable route table. Build it once with NewTable.
type Table struct {
	routes   []Route
	byName   map[Name]Route
	fallback Name
}

// NewTable validates routes and builds a table. Unknown names and unmatched paths
// resolve to the fallback route, which must itself be declared.
func NewTable(fallback Name, routes ...Route) (*Table, error) {
	t := &Table{
		routes:   make([]Route, 0, len(routes)),
		byName:   make(map[Name]Route, len(routes)),
		fallback: fallback,
	}
	for _, r := range routes {
		if r.Name == "" {
			return nil, fmt.Errorf("route with path %q has no name", r.Path)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("route %q: path must start with '/'", r.Name)
		}
		if _, dup := t.byName[r.Name]; dup {
			return nil, fmt.Errorf("duplicate route name %q", r.Name)
		}
		t.routes = append(t.routes, r)
		t.byName[r.Name] = r
	}
	if _, ok := t.byName[fallback]; !ok {
		return nil, fmt.Errorf("fallback route %q is not declared", fallback)
	}
	return t, nil
}

// Lookup returns the route registered under name.
func (t *Table) Lookup(name Name) (Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Resolve returns the named route, or the fallback route when the name is unknown.
func (t *Table) Resolve(name Name) Route {
	if r, ok := t.byName[name]; ok {
		return r
	}
	return t.byName[t.fallback]
}

// Match resolves a concrete path (query and fragment ignored) to a declared route.
// Paths that match nothing resolve to the fallback route with ok=false.
func (t *Table) Match(path string) (Route, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segs := splitPath(path)
	for _, r := range t.routes {
		if matchSegments(splitPath(r.Path), segs) {
			return r, true
		}
	}
	return t.byName[t.fallback], false
}

// Routes returns a copy of the declared routes in declaration order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Fallback returns the catch-all route name.
func (t *Table) Fallback() Name { return t.fallback }

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

// DefaultTable returns the clinic application's route table.
func DefaultTable() *Table {
	admin := Requirement{RequiresAuth: true, RequiredRole: domainauth.RoleAdmin}
	doctor := Requirement{RequiresAuth: true, RequiredRole: domainauth.RoleDoctor}
	patient := Requirement{RequiresAuth: true, RequiredRole: domainauth.RolePatient}

	t, err := NewTable(Login,
		Route{Name: Home, Path: "/"},
		Route{Name: Patients, Path: "/patients", Requirement: admin},
		Route{Name: PatientDetail, Path: "/patient/:id", Requirement: admin},
		Route{Name: Doctors, Path: "/doctors", Requirement: admin},
		Route{Name: Appointments, Path: "/appointments", Requirement: admin},
		Route{Name: AllAppointments, Path: "/all-appointments", Requirement: admin},
		Route{Name: AdminServices, Path: "/admin/services", Requirement: admin},
		Route{Name: AdminDashboard, Path: "/admin/dashboard", Requirement: admin},
		Route{Name: DoctorDashboard, Path: "/doctor/dashboard", Requirement: doctor},
		Route{Name: PatientDashboard, Path: "/my-dashboard", Requirement: patient},
		Route{Name: PatientAppointmentHistory, Path: "/appointment-history", Requirement: patient},
		Route{Name: Login, Path: "/login"},
		Route{Name: Register, Path: "/register"},
		Route{Name: PublicDoctors, Path: "/our-doctors"},
	)
	if err != nil {
		panic(err) // static table; only a programming error can fail here
	}
	return t
}
