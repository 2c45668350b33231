// Command nest is the nestlog command-line client and mirror server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/cache"
	"github.com/nestlog/nestlog/internal/config"
	"github.com/nestlog/nestlog/internal/logging"
	"github.com/nestlog/nestlog/internal/mirror"
	"github.com/nestlog/nestlog/internal/store"
)

// annotationCreatesConfig marks commands that may be given a --config path
// that does not exist yet.
const annotationCreatesConfig = "nest/creates-config"

var (
	cfg  *config.Config
	logs *logging.Logging
	sess *session
)

var rootCmd = &cobra.Command{
	Use:   "nest",
	Short: "Local-first baby tracker",
	Long: `nest keeps feeding, sleep, diaper, growth and food records for one or more
children in a local database and, when a mirror is configured, keeps every
device signed in with the same token in sync.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if cmd.Annotations[annotationCreatesConfig] != "" && configPath != "" {
			if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
				configPath = ""
			}
		}
		if err := config.ReadFile(configPath); err != nil {
			return err
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		logs = logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Verbose:    cfg.Log.Verbose,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeSession()
		if logs != nil {
			_ = logs.Close()
		}
	},
}

// session is the open cache, mirror client and store of one command.
type session struct {
	cache  *cache.Cache
	client *mirror.Client
	store  *store.Store
}

// openSession opens the cache and store, dialing the mirror when one is
// configured. A mirror that cannot be reached leaves the store local-only.
func openSession(ctx context.Context) (*session, error) {
	if sess != nil {
		return sess, nil
	}

	c, err := cache.Open(cfg.CachePath(), logs.For("cache"))
	if err != nil {
		return nil, err
	}
	s := &session{cache: c}

	var channel mirror.Channel
	if cfg.SyncEnabled() {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := mirror.Dial(dialCtx, cfg.Mirror.URL, cfg.Mirror.Token, logs.For("mirror"))
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: mirror unavailable, working offline: %v\n", err)
		} else {
			s.client = client
			channel = client
		}
	}

	st, err := store.Open(ctx, store.Config{
		Cache:   c,
		Channel: channel,
		Logger:  logs.For("store"),
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.store = st

	sess = s
	return s, nil
}

// close flushes pending pushes before the connection goes away.
func (s *session) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func closeSession() {
	if sess != nil {
		sess.close()
		sess = nil
	}
}

// mustSession opens the session or exits.
func mustSession(cmd *cobra.Command) *session {
	s, err := openSession(cmd.Context())
	if err != nil {
		fatalf("%v", err)
	}
	return s
}

// fatalf prints an error, closes the session and exits with status 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	closeSession()
	if logs != nil {
		_ = logs.Close()
	}
	os.Exit(1)
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Records and profiles:"},
		&cobra.Group{ID: "sync", Title: "Sync and import:"},
		&cobra.Group{ID: "setup", Title: "Setup and diagnostics:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: <data-dir>/config.toml)")
	pf.String("data-dir", "", "Directory holding the local database (default: ~/.nestlog)")
	pf.String("mirror-url", "", "Mirror websocket URL, e.g. ws://host:8787/ws")
	pf.String("token", "", "Mirror bearer token")
	pf.BoolP("verbose", "v", false, "Also write logs to stderr")
}

func main() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	pf := rootCmd.PersistentFlags()
	for key, name := range map[string]string{
		config.KeyDataDir:     "data-dir",
		config.KeyMirrorURL:   "mirror-url",
		config.KeyMirrorToken: "token",
		config.KeyLogVerbose:  "verbose",
	} {
		if err := config.BindFlag(key, pf.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeSession()
		os.Exit(1)
	}
}
