package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/wilhg/sigil/pkg/otel"
	"github.com/wilhg/sigil/pkg/store"
	"github.com/wilhg/sigil/pkg/store/memstore"
	"github.com/wilhg/sigil/pkg/store/sqlstore"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	var showVersion bool
	var addr string

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&addr, "addr", getEnv("SIGIL_ADDR", ":8080"), "http listen address")
	flag.Parse()

	if showVersion {
		fmt.Printf("sigil %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	ctx := context.Background()
	shutdown, err := otel.Init(ctx, otel.Config{ServiceName: "sigil"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = shutdown(ctx) }()

	kv, closeKV, err := openKV(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		os.Exit(1)
	}
	defer closeKV()

	mgr := newManager(kv)
	slog.Info("sigil listening", "addr", addr)
	server := &http.Server{Addr: addr, Handler: buildMux(mgr)}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// openKV picks the hibernation store: DATABASE_URL selects sqlite or
// postgres; unset falls back to process memory.
func openKV(ctx context.Context) (store.KV, func(), error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return memstore.New(), func() {}, nil
	}
	st, err := sqlstore.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
