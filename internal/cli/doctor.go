package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/p-blackswan/poesy/internal/health"
)

var errNotReady = errors.New("not ready")

func runDoctor(ctx context.Context, a *App, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	checker := health.NewChecker(a.logger)
	checker.SetTimeout(a.cfg.RequestTimeout)
	checker.Register("store", health.StoreCheck(a.store))
	checker.Register("api", health.EndpointCheck(a.http, a.cfg.BaseURL+"/healthz"))
	checker.Register("session", health.SessionCheck(a.session))

	results := checker.RunAll(ctx)
	err := a.emit(results, func() {
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, name := range checker.Names() {
			r := results[name]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, r.Status, r.Detail)
		}
		tw.Flush()
	})
	if err != nil {
		return err
	}
	if !health.Ready(results) {
		return errNotReady
	}
	return nil
}
