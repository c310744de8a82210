package service

import (
	"context"
	"errors"
	"log/slog"

	domainauth "github.com/target/clinic-session/internal/domain/auth"
	"github.com/target/clinic-session/internal/domain/route"
	"github.com/target/clinic-session/internal/observability/metrics"
	"github.com/target/clinic-session/internal/observability/statsd"
)

// DecisionKind is the outcome of a navigation check.
type DecisionKind string

const (
	Allow            DecisionKind = "allow"
	RedirectLogin    DecisionKind = "redirect_login"
	RedirectRoleHome DecisionKind = "redirect_role_home"
)

// Decision tells the router what to do with a transition. Target is set for redirects.
type Decision struct {
	Kind   DecisionKind
	Target route.Name
}

// Allowed reports whether the transition may proceed to the requested route.
func (d Decision) Allowed() bool { return d.Kind == Allow }

// Decide gates a transition to target given a session snapshot. It does not fetch anything;
// callers that hold a token without an identity should resolve it first (see BeforeEach).
func Decide(sess domainauth.Session, target route.Route, policy route.RoleHomePolicy) Decision {
	req := target.Requirement
	authed := sess.IsAuthenticated()

	if req.RequiresAuth && !authed {
		return Decision{Kind: RedirectLogin, Target: route.Login}
	}
	if authed && (target.Name == route.Login || target.Name == route.Register) {
		return roleHome(sess, target, policy)
	}
	if authed && req.RequiredRole != "" && !sess.UserRoles().Has(req.RequiredRole) {
		return roleHome(sess, target, policy)
	}
	return Decision{Kind: Allow}
}

// roleHome redirects to the home of the highest-ranked role the user holds. A user whose
// roles have no home in the policy is sent to the public home page; a gated route is never
// granted just because no redirect target exists. Navigation proceeds when the computed
// home is the target itself.
func roleHome(sess domainauth.Session, target route.Route, policy route.RoleHomePolicy) Decision {
	home, ok := policy.HomeFor(sess.UserRoles())
	if !ok {
		home = route.Home
	}
	if home == target.Name {
		return Decision{Kind: Allow}
	}
	return Decision{Kind: RedirectRoleHome, Target: home}
}

// SessionReader is the part of AuthService the guard depends on.
type SessionReader interface {
	Snapshot() domainauth.Session
	FetchUser(ctx context.Context) error
}

// NavigationGuardOptions groups dependencies for NavigationGuard.
// Table and Policy default to route.DefaultTable and route.DefaultRoleHomePolicy.
type NavigationGuardOptions struct {
	Session SessionReader
	Table   *route.Table
	Policy  route.RoleHomePolicy
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NavigationGuard runs before every route transition.
type NavigationGuard struct {
	session SessionReader
	table   *route.Table
	policy  route.RoleHomePolicy
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewNavigationGuard constructs a guard bound to one session.
func NewNavigationGuard(opts NavigationGuardOptions) (*NavigationGuard, error) {
	if opts.Session == nil {
		return nil, errors.New("session is required")
	}
	table := opts.Table
	if table == nil {
		table = route.DefaultTable()
	}
	policy := opts.Policy
	if len(policy) == 0 {
		policy = route.DefaultRoleHomePolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NavigationGuard{
		session: opts.Session,
		table:   table,
		policy:  policy,
		logger:  logger.With("component", "guard"),
		metrics: opts.Metrics,
	}, nil
}

// BeforeEach decides a transition to the named route. A held token without an identity is
// resolved first; if that fails the session has already been cleared and the decision is
// made against the signed-out state. Unknown names resolve to the catch-all route.
func (g *NavigationGuard) BeforeEach(ctx context.Context, to route.Name) Decision {
	target, ok := g.table.Lookup(to)
	if !ok {
		g.logger.DebugContext(ctx, "unknown route; using fallback", "route", to, "fallback", g.table.Fallback())
		return g.fallback(ctx)
	}
	return g.decide(ctx, target)
}

// Navigate decides a transition to a concrete path such as /patient/42.
func (g *NavigationGuard) Navigate(ctx context.Context, path string) Decision {
	target, ok := g.table.Match(path)
	if !ok {
		g.logger.DebugContext(ctx, "no route matches path; using fallback", "path", path, "fallback", target.Name)
		return g.fallback(ctx)
	}
	return g.decide(ctx, target)
}

// Table returns the route table the guard consults.
func (g *NavigationGuard) Table() *route.Table { return g.table }

// fallback redirects an unmatched transition to the catch-all route, itself subject to the guard.
func (g *NavigationGuard) fallback(ctx context.Context) Decision {
	name := g.table.Fallback()
	d := g.decide(ctx, g.table.Resolve(name))
	if d.Allowed() {
		kind := RedirectRoleHome
		if name == route.Login {
			kind = RedirectLogin
		}
		return Decision{Kind: kind, Target: name}
	}
	return d
}

func (g *NavigationGuard) decide(ctx context.Context, target route.Route) Decision {
	sess := g.session.Snapshot()
	if sess.HasToken() && sess.User == nil {
		if err := g.session.FetchUser(ctx); err != nil {
			g.logger.WarnContext(ctx, "resolve identity before navigation failed", "route", target.Name, "error", err)
		}
		sess = g.session.Snapshot()
	}

	d := Decide(sess, target, g.policy)
	if !d.Allowed() {
		g.logger.DebugContext(ctx, "navigation redirected", "route", target.Name, "decision", d.Kind, "target", d.Target)
	}
	metrics.EmitGuardDecision(g.metrics, string(d.Kind), string(target.Name))
	return d
}
