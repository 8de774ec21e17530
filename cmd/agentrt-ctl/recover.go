package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// recoverCmd fails sessions left in created by a crashed process
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail orphaned sessions",
	Long: `Mark every session still in "created" as failed.

The daemon does this on startup. Run it by hand only while no daemon is
executing sessions against the same database, or live sessions will be
failed under it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Sessions.RecoverOrphanedSessions(ctx)
		if err != nil {
			return err
		}

		if outputFormat != formatTable {
			return printStructured(map[string]int64{"recovered": n})
		}
		Success(fmt.Sprintf("Recovered %d orphaned session(s)", n))
		return nil
	},
}
