package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/inbox"
	"github.com/nestlog/nestlog/internal/ui"
)

var inboxCmd = &cobra.Command{
	Use:     "inbox",
	GroupID: "sync",
	Short:   "Import records dropped as JSON files",
	Long: `Import records from JSON files dropped into the inbox directory
(inbox.dir, default <data-dir>/inbox).

A file named <collection>--<anything>.json holds one record object or an
array of them, e.g. triedFoods--scan-0412.json. Records are added to the
active profile. Imported files move to processed/, unreadable ones to
rejected/.`,
}

var inboxImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import every pending file once",
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)
		w := mustInbox(s)

		sum, err := w.ProcessDir(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		p := ui.New(os.Stdout)
		p.Success("Imported %d record(s) from %d file(s)", sum.Records, sum.Files-sum.Rejected-sum.Deferred)
		if sum.Rejected > 0 {
			p.Warn("%d file(s) rejected, see %s/rejected", sum.Rejected, cfg.Inbox.Dir)
		}
		if sum.Deferred > 0 {
			p.Warn("%d file(s) left in the inbox, see %s", sum.Deferred, cfg.Log.File)
		}
	},
}

var inboxWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Import files as they arrive",
	Run: func(cmd *cobra.Command, args []string) {
		s := mustReadySession(cmd)
		w := mustInbox(s)

		fmt.Printf("Watching %s\n", cfg.Inbox.Dir)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := w.Run(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

func mustInbox(s *session) *inbox.Watcher {
	w, err := inbox.New(s.store, &inbox.Config{
		Dir:      cfg.Inbox.Dir,
		Debounce: cfg.Inbox.Debounce,
		Logger:   logs.For("inbox"),
	})
	if err != nil {
		fatalf("%v", err)
	}
	return w
}

func init() {
	inboxCmd.AddCommand(inboxImportCmd)
	inboxCmd.AddCommand(inboxWatchCmd)
	rootCmd.AddCommand(inboxCmd)
}
