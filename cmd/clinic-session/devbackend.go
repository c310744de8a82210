package main

import (
	"flag"

	"github.com/target/clinic-session/internal/bootstrap"
)

// runDevBackend serves the development identity API until the context is canceled,
// so AUTH_MODE=api sessions in other processes can sign in against it.
func runDevBackend(c *commandContext, args []string) error {
	fs := flag.NewFlagSet("dev-backend", flag.ContinueOnError)
	addr := fs.String("addr", c.Config.DevBackend.Addr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, err := bootstrap.BuildDevServer(c.Ctx, c.Config.Auth.DevAuth, c.Logger)
	if err != nil {
		return err
	}
	return bootstrap.ServeHTTP(c.Ctx, bootstrap.HTTPServerConfig{
		Name:            "dev-backend",
		Addr:            *addr,
		Handler:         dev.Handler(),
		ShutdownTimeout: c.Config.DevBackend.ShutdownTimeout,
		Logger:          c.Logger,
	})
}
