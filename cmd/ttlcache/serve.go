package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agentuity/go-ttlcache/cache"
	"github.com/agentuity/go-ttlcache/config"
	"github.com/agentuity/go-ttlcache/httpcache"
	"github.com/agentuity/go-ttlcache/logger"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo HTTP server whose responses go through the request cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagOrEnv(cmd, "config", config.EnvPrefix+"CONFIG", ""))
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}
			log := newLogger(cmd, cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides the config file)")
	cmd.Flags().String("config", "", "YAML config file (env TTLCACHE_CONFIG)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log logger.Logger) error {
	c, err := cache.Open(ctx, cfg.CacheConfig(log.WithPrefix("[cache]")))
	if err != nil {
		return err
	}
	defer c.Close()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", cfg.Addr)
	}
	srv := &http.Server{
		Handler:           newHandler(c, cfg, log),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// newHandler returns the demo routes. Everything except /healthz is served
// through the request cache; /fib is additionally memoized per argument.
func newHandler(c cache.Cache, cfg config.Config, log logger.Logger) http.Handler {
	ttl := time.Duration(cfg.TTL)
	memo := cache.NewMemoizer(c, cache.WithLogger(log), cache.WithAlgorithm(cfg.HashAlgorithm()))
	rc := httpcache.New(c, httpcache.WithLogger(log.WithPrefix("[http]")))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /fib/{n}", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.PathValue("n"))
		if err != nil || n < 0 || n > 92 {
			http.Error(w, "n must be between 0 and 92", http.StatusBadRequest)
			return
		}
		v, err := cache.MemoizeFunc(r.Context(), memo, fib, n, ttl)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"n": n, "fib": v})
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id":        uuid.NewString(),
			"path":      r.URL.Path,
			"generated": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	key := func(r *http.Request) (string, bool) {
		if r.URL.Path == "/healthz" {
			return "", false
		}
		return httpcache.DefaultKey(r)
	}
	return httpcache.Middleware(rc, key, ttl)(mux)
}

func fib(_ context.Context, n int) (uint64, error) {
	var a, b uint64 = 0, 1
	for range n {
		a, b = b, a+b
	}
	return a, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
