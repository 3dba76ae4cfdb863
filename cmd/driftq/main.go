package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftq/driftq/internal/config"
	"github.com/driftq/driftq/internal/journal"
	"github.com/driftq/driftq/internal/query"
	httpserver "github.com/driftq/driftq/internal/server/http"
	"github.com/driftq/driftq/internal/storage"
	"github.com/driftq/driftq/internal/storage/pebblestore"
	"github.com/driftq/driftq/internal/storage/redisstore"
	"github.com/driftq/driftq/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		cfgPath   string
		backend   string
		redisAddr string
		dataDir   string
		maxPage   int
		keyPrefix string
	)

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return config.Config{}, err
		}
		if err := config.FromEnv(&cfg); err != nil {
			return config.Config{}, err
		}
		// Flags win over file and env.
		if backend != "" {
			cfg.Backend = backend
		}
		if redisAddr != "" {
			cfg.Redis.Addr = redisAddr
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if maxPage > 0 {
			cfg.Max = maxPage
		}
		if keyPrefix != "" {
			cfg.KeyPrefix = keyPrefix
		}
		return cfg, cfg.Validate()
	}

	rootCmd := &cobra.Command{
		Use:           "driftq",
		Short:         "driftq journal query engine",
		Long:          "driftq serves read-side queries over a Redis-style event journal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to JSON config file")
	pf.StringVar(&backend, "backend", "", "store backend: redis or pebble")
	pf.StringVar(&redisAddr, "redis-addr", "", "redis address (redis backend)")
	pf.StringVar(&dataDir, "data-dir", "", "data directory (pebble backend)")
	pf.IntVar(&maxPage, "max", 0, "range-read page size")
	pf.StringVar(&keyPrefix, "key-prefix", "", "store key prefix")

	rootCmd.AddCommand(newServeCmd(loadConfig))
	rootCmd.AddCommand(newTailCmd(loadConfig))
	rootCmd.AddCommand(newAppendCmd(loadConfig))
	rootCmd.AddCommand(newDeleteCmd(loadConfig))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "driftq:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) log.Logger {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	format := log.TextFormat
	if cfg.LogFormat == "json" {
		format = log.JSONFormat
	}
	return log.NewLogger(log.WithLevel(level), log.WithFormat(format))
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return redisstore.Open(redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil
	case config.BackendPebble:
		return pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, SyncWrites: true})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

type engine struct {
	store   storage.Store
	queries *query.Queries
	writer  *journal.Writer
	log     log.Logger
}

func openEngine(cfg config.Config) (*engine, error) {
	logger := newLogger(cfg)
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	keys := journal.Keyspace{Prefix: cfg.KeyPrefix}
	queries, err := query.New(store, keys, logger, cfg.Max)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &engine{
		store:   store,
		queries: queries,
		writer:  journal.NewWriter(store, keys, logger),
		log:     logger,
	}, nil
}

func (e *engine) close() { _ = e.store.Close() }

func newServeCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP/SSE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			srv := httpserver.New(cfg.HTTPAddr, eng.queries, eng.writer, eng.log)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-sig:
				eng.log.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	return cmd
}

func newTailCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var (
		pid    string
		tag    string
		from   uint64
		to     uint64
		offset uint64
		live   bool
		filter string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Run a query and print envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (pid == "") == (tag == "") {
				return errors.New("exactly one of --pid or --tag is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := query.Options{Filter: filter}
			var st *query.Stream
			switch {
			case pid != "" && live:
				st, err = eng.queries.EventsByPersistenceID(ctx, pid, from, to, opts)
			case pid != "":
				st, err = eng.queries.CurrentEventsByPersistenceID(ctx, pid, from, to, opts)
			case live:
				st, err = eng.queries.EventsByTag(ctx, tag, offset, opts)
			default:
				st, err = eng.queries.CurrentEventsByTag(ctx, tag, offset, opts)
			}
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			for {
				env, err := st.Recv(ctx)
				if errors.Is(err, query.ErrDone) {
					return nil
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				fmt.Printf("%d\t%s\t%d\t%s\n", env.Offset, env.PersistenceID, env.SequenceNr, env.Payload)
			}
		},
	}
	cmd.Flags().StringVar(&pid, "pid", "", "persistence identifier to query")
	cmd.Flags().StringVar(&tag, "tag", "", "tag to query")
	cmd.Flags().Uint64Var(&from, "from", 0, "lowest sequence number (inclusive, --pid)")
	cmd.Flags().Uint64Var(&to, "to", math.MaxUint64, "highest sequence number (inclusive, --pid)")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "tag-local start offset (inclusive, --tag)")
	cmd.Flags().BoolVar(&live, "live", false, "follow the journal tail")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter expression")
	return cmd
}

func newAppendCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "append <persistence-id> <payload>",
		Short: "Append one event to the journal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()
			seq, err := eng.writer.Append(cmd.Context(), args[0], []byte(args[1]), tags...)
			if err != nil {
				return err
			}
			fmt.Println(seq)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	return cmd
}

func newDeleteCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <persistence-id> <to-sequence-nr>",
		Short: "Mark events up to a sequence number as deleted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toSeq uint64
			if _, err := fmt.Sscanf(args[1], "%d", &toSeq); err != nil {
				return fmt.Errorf("bad to-sequence-nr %q", args[1])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.close()
			return eng.writer.Delete(cmd.Context(), args[0], toSeq)
		},
	}
}
