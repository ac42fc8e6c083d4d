package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/p-blackswan/poesy/internal/store"
)

var errNotInspectable = errors.New("local store is in memory; nothing to inspect")

type storeReport struct {
	Path          string        `json:"path"`
	SchemaVersion string        `json:"schemaVersion"`
	SizeBytes     int64         `json:"sizeBytes"`
	Entries       []store.Entry `json:"entries"`
}

// runStore prints what the CLI keeps in its SQLite file.
func runStore(ctx context.Context, a *App, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	db, ok := a.store.(*store.Store)
	if !ok {
		return errNotInspectable
	}

	report := storeReport{Path: db.Path()}
	var err error
	if report.SchemaVersion, err = db.SchemaVersion(); err != nil {
		return err
	}
	if report.SizeBytes, err = db.SizeBytes(); err != nil {
		return err
	}
	if report.Entries, err = db.Entries(ctx, prefix); err != nil {
		return err
	}

	return a.emit(report, func() {
		a.printf("path:    %s\nschema:  v%s\nsize:    %d bytes\n", report.Path, report.SchemaVersion, report.SizeBytes)
		if len(report.Entries) == 0 {
			return
		}
		a.printf("\n")
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tBYTES\tUPDATED")
		for _, e := range report.Entries {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Key, e.Size, e.UpdatedAt.Local().Format(time.DateTime))
		}
		tw.Flush()
	})
}
