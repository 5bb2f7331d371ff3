package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cepweb/gocep/internal/config"
	"github.com/cepweb/gocep/internal/embed"
	"github.com/cepweb/gocep/internal/engine"
	"github.com/cepweb/gocep/internal/server"
	"github.com/cepweb/gocep/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Pick the embedding provider: remote when reachable, otherwise the
	// deterministic offline hasher.
	var provider embed.Provider
	if cfg.Embedding.URL != "" && embed.Probe(cfg.Embedding.URL, cfg.Embedding.Model) {
		provider = embed.NewRemoteProvider(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	} else {
		provider = embed.NewTermProvider(cfg.Embedding.Dimensions)
	}
	log.Info("embedder selected", zap.String("model", provider.Model()))

	fs, indexPath, err := resolveFS(cfg.Embedding.IndexPath)
	if err != nil {
		return err
	}
	index, err := embed.NewIndex(fs, indexPath)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}

	eng := engine.New(st, log, engine.WithProvider(provider), engine.WithIndex(index))

	// Backfill embeddings in the background.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := eng.EmbedMissing(ctx); err != nil {
			log.Warn("embed missing", zap.Error(err))
		} else if n > 0 {
			if err := index.Save(); err != nil {
				log.Warn("save vector index", zap.Error(err))
			}
		}
	}()

	srv := server.New(eng, log, VersionString())
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("gocep serving",
			zap.String("addr", cfg.ListenAddr()),
			zap.String("db", cfg.Database.Path))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	log.Info("shutting down")

	if err := index.Save(); err != nil {
		log.Warn("save vector index", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// openStore opens the configured SQLite database, or an in-memory one
// when no path is set.
func openStore(cfg config.Config) (store.Storer, error) {
	if cfg.Database.Path == "" {
		return store.NewSQLiteStore()
	}
	return store.NewSQLiteStoreWithDSN("file:" + cfg.Database.Path)
}

// resolveFS maps an OS path onto a hackpadfs filesystem rooted at /.
func resolveFS(path string) (hackpadfs.FS, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	fs := osfs.NewFS()
	fsPath, err := fs.FromOSPath(abs)
	if err != nil {
		return nil, "", fmt.Errorf("map path %s: %w", abs, err)
	}
	return fs, fsPath, nil
}
