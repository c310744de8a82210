package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/target/clinic-session/internal/bootstrap"
	domainauth "github.com/target/clinic-session/internal/domain/auth"
	"github.com/target/clinic-session/internal/domain/route"
	"github.com/target/clinic-session/internal/observability/notify"
	"github.com/target/clinic-session/internal/observability/statsd"
	"github.com/target/clinic-session/internal/service"
)

var errNotSignedIn = errors.New("not signed in")

// cliSession is a wired session plus the resources the command must release.
type cliSession struct {
	*bootstrap.Session
	store   *bootstrap.TokenStore
	metrics *statsd.Client
	sub     *notify.Subscription
}

func openSession(c *commandContext) (*cliSession, error) {
	metrics, err := bootstrap.BuildMetrics(c.Ctx, c.Config.Observability.Metrics, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	store, err := bootstrap.BuildTokenStore(c.Ctx, bootstrap.TokenStoreConfig{
		Storage:  c.Config.Storage,
		Postgres: c.Config.Postgres,
		Redis:    c.Config.Redis,
		Logger:   c.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, metrics.Close())
	}
	sess, err := bootstrap.BuildSession(c.Ctx, bootstrap.SessionConfig{
		App:     c.Config,
		Tokens:  store,
		Logger:  c.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, errors.Join(err, store.Close(), metrics.Close())
	}
	sub := sess.Expiry.Subscribe(notify.ExpiryListenerFunc(func(ctx context.Context, _ notify.SessionExpired) {
		c.Logger.WarnContext(ctx, "session expired; sign in again")
	}))
	return &cliSession{Session: sess, store: store, metrics: metrics, sub: sub}, nil
}

func (s *cliSession) close(c *commandContext) {
	s.sub.Cancel()
	if err := s.store.Close(); err != nil {
		c.Logger.WarnContext(c.Ctx, "close token store failed", "error", err)
	}
	if err := s.metrics.Close(); err != nil {
		c.Logger.WarnContext(c.Ctx, "close metrics failed", "error", err)
	}
}

type loginOptions struct {
	Email    string
	Password string
}

func parseLoginFlags(args []string, in io.Reader) (loginOptions, error) {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var opts loginOptions
	fs.StringVar(&opts.Email, "email", "", "Account email (required)")
	fs.StringVar(&opts.Password, "password", "", "Account password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return loginOptions{}, err
	}
	if strings.TrimSpace(opts.Email) == "" {
		return loginOptions{}, errors.New("--email is required")
	}
	if opts.Password == "" {
		pw, err := readLine(in)
		if err != nil {
			return loginOptions{}, fmt.Errorf("read password: %w", err)
		}
		opts.Password = pw
	}
	return opts, nil
}

func runLogin(c *commandContext, args []string) error {
	opts, err := parseLoginFlags(args, c.In)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close(c)

	res, err := s.Auth.Login(c.Ctx, opts.Email, opts.Password)
	if err != nil {
		return err
	}
	return printSignedIn(c.Out, res.User)
}

func parseRegisterFlags(args []string, in io.Reader) (domainauth.Registration, error) {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var reg domainauth.Registration
	fs.StringVar(&reg.Email, "email", "", "Account email (required)")
	fs.StringVar(&reg.Password, "password", "", "Account password (read from stdin when omitted)")
	fs.StringVar(&reg.FullName, "full-name", "", "Full name (required)")
	fs.StringVar(&reg.PhoneNumber, "phone", "", "Phone number")
	fs.StringVar(&reg.Gender, "gender", "", "Gender")
	fs.StringVar(&reg.BloodType, "blood-type", "", "Blood type")
	fs.StringVar(&reg.Address, "address", "", "Postal address")
	fs.StringVar(&reg.DateOfBirth, "dob", "", "Date of birth (YYYY-MM-DD)")
	fs.StringVar(&reg.EmergencyContactName, "emergency-name", "", "Emergency contact name")
	fs.StringVar(&reg.EmergencyContactPhone, "emergency-phone", "", "Emergency contact phone")
	if err := fs.Parse(args); err != nil {
		return domainauth.Registration{}, err
	}
	if reg.Password == "" {
		pw, err := readLine(in)
		if err != nil {
			return domainauth.Registration{}, fmt.Errorf("read password: %w", err)
		}
		reg.Password = pw
	}
	return reg, nil
}

func runRegister(c *commandContext, args []string) error {
	reg, err := parseRegisterFlags(args, c.In)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close(c)

	res, err := s.Auth.Register(c.Ctx, reg)
	if err != nil {
		return err
	}
	return printSignedIn(c.Out, res.User)
}

func runWhoAmI(c *commandContext, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print the identity as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close(c)

	s.Auth.InitializeAuth(c.Ctx)
	user := s.Auth.User()
	if !s.Auth.IsAuthenticated() || user == nil {
		return errNotSignedIn
	}
	if *asJSON {
		enc := json.NewEncoder(c.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	}
	return printIdentity(c.Out, *user)
}

func runLogout(c *commandContext, _ []string) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close(c)

	s.Auth.Logout(c.Ctx)
	return writeln(c.Out, "signed out")
}

func runNavigate(c *commandContext, args []string) error {
	fs := flag.NewFlagSet("navigate", flag.ContinueOnError)
	byName := fs.Bool("name", false, "Treat the argument as a route name instead of a path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: navigate [--name] <path|route-name>")
	}
	target := fs.Arg(0)

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close(c)

	var d service.Decision
	if *byName {
		d = s.Guard.BeforeEach(c.Ctx, route.Name(target))
	} else {
		d = s.Guard.Navigate(c.Ctx, target)
	}
	return printDecision(c.Out, target, d)
}

func runRoutes(c *commandContext, _ []string) error {
	w := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "NAME\tPATH\tAUTH\tROLE"); err != nil {
		return fmt.Errorf("write routes header: %w", err)
	}
	for _, r := range route.DefaultTable().Routes() {
		role := string(r.Requirement.RequiredRole)
		if role == "" {
			role = "-"
		}
		if err := writef(w, "%s\t%s\t%t\t%s\n", r.Name, r.Path, r.Requirement.RequiresAuth, role); err != nil {
			return fmt.Errorf("write route %s: %w", r.Name, err)
		}
	}
	return w.Flush()
}

func printSignedIn(w io.Writer, user domainauth.Identity) error {
	home, ok := route.DefaultRoleHomePolicy().HomeFor(user.Roles)
	if !ok {
		home = route.Home
	}
	return writef(w, "signed in as %s (%s); home: %s\n", user.Email, roleList(user.Roles), home)
}

func printIdentity(out io.Writer, user domainauth.Identity) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"ID", user.ID},
		{"Name", user.FullName},
		{"Email", user.Email},
		{"Roles", roleList(user.Roles)},
	}
	for _, row := range rows {
		if err := writef(w, "%s\t%s\n", row[0], row[1]); err != nil {
			return fmt.Errorf("write %s: %w", row[0], err)
		}
	}
	return w.Flush()
}

func printDecision(w io.Writer, target string, d service.Decision) error {
	if d.Allowed() {
		return writef(w, "allow %s\n", target)
	}
	return writef(w, "%s %s -> %s\n", d.Kind, target, d.Target)
}

func roleList(roles domainauth.Roles) string {
	if len(roles) == 0 {
		return "no roles"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func readLine(in io.Reader) (string, error) {
	if in == nil {
		return "", io.ErrUnexpectedEOF
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", io.ErrUnexpectedEOF
	}
	return line, nil
}
