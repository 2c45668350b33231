package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nestlog/nestlog/internal/schema"
	"github.com/nestlog/nestlog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Stay connected and sync changes until interrupted",
	Long: `Keep a live session with the mirror: changes made on other devices are
adopted as they arrive, and files dropped into the inbox are imported and
pushed. Stops on Ctrl+C or when the mirror connection drops.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.SyncEnabled() {
			fatalf("no mirror configured; set mirror.url and mirror.token (or --mirror-url and --token)")
		}
		s := mustReadySession(cmd)
		if s.client == nil {
			fatalf("mirror %s is unreachable", cfg.Mirror.URL)
		}
		noInbox, _ := cmd.Flags().GetBool("no-inbox")
		p := ui.New(os.Stdout)

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		g, ctx := errgroup.WithContext(ctx)

		// OnChange runs under the store lock; never block it.
		changes := make(chan schema.Key, 64)
		s.store.OnChange(func(key schema.Key) {
			select {
			case changes <- key:
			default:
			}
		})

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case key := <-changes:
					p.Println(time.Now().Format("15:04:05"), "updated", key.String(), "from another device")
				}
			}
		})

		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-s.client.Done():
				return errors.New("mirror connection lost")
			}
		})

		if !noInbox {
			w := mustInbox(s)
			g.Go(func() error {
				return w.Run(ctx)
			})
		}

		fmt.Printf("Syncing with %s\n", cfg.Mirror.URL)
		if !noInbox {
			fmt.Printf("Inbox: %s\n", cfg.Inbox.Dir)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		err := g.Wait()
		fmt.Println()
		p.Status(s.store.Status())
		if err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("no-inbox", false, "Do not watch the inbox directory")
	rootCmd.AddCommand(syncCmd)
}
