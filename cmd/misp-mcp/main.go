// Command misp-mcp serves the MISP tool catalogue to an MCP client over
// standard input and output. Logs go to standard error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sid6224/misp-mcp/internal/config"
	"github.com/sid6224/misp-mcp/internal/logctx"
	"github.com/sid6224/misp-mcp/mcp"
	"github.com/sid6224/misp-mcp/mcpserver"
	"github.com/sid6224/misp-mcp/mcpservice"
	"github.com/sid6224/misp-mcp/misp"
	"github.com/sid6224/misp-mcp/stdio"
	"github.com/sid6224/misp-mcp/storage"
	"github.com/sid6224/misp-mcp/storage/bolt"
	"github.com/sid6224/misp-mcp/storage/memory"
	"github.com/sid6224/misp-mcp/storage/redis"
)

const serverName = "misp-mcp-server"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	// After the first signal the default handlers are restored, so a second
	// one terminates the process.
	context.AfterFunc(ctx, cancel)

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "misp-mcp: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		return err
	}

	var level slog.LevelVar
	if err := mcpservice.SetSlogLevel(&level, cfg.LogLevel); err != nil {
		return err
	}
	log := newLogger(cfg, &level, stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.WatchLogLevel() && !cfg.Quiet {
		w, err := config.NewWatcher(cfg.File, &level, log)
		if err != nil {
			log.Warn("config.watch.err", slog.String("err", err.Error()))
		} else {
			go w.Run(ctx)
		}
	}

	cache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	if cache != nil {
		defer func() {
			cancel()
			_ = cache.Close()
		}()
	}

	opts := []misp.Option{misp.WithLogger(log)}
	if cache != nil {
		opts = append(opts, misp.WithCache(cache, cfg.CacheTTL))
	}
	client, err := misp.New(misp.Config{
		BaseURL:   cfg.MISPURL,
		APIKey:    cfg.APIKey,
		VerifyTLS: cfg.VerifyTLS,
		Timeout:   cfg.Timeout(),
	}, opts...)
	if err != nil {
		return err
	}

	reg := mcpservice.NewRegistry(mcpservice.WithRegistryLogger(log))
	misp.Register(reg, client)
	log.Info("main.tools.registered", slog.Int("count", reg.Len()))

	srv := mcpserver.New(
		mcpserver.WithServerInfo(mcp.ImplementationInfo{Name: serverName, Version: misp.Version}),
		mcpserver.WithRegistry(reg),
		mcpserver.WithLogger(log),
		mcpserver.WithInstructions("Tools for querying the MISP threat intelligence platform at "+client.BaseURL()+"."),
	)

	err = srv.Run(ctx, stdio.New(stdio.WithIO(stdin, stdout), stdio.WithLogger(log)))
	if errors.Is(err, context.Canceled) {
		log.Info("main.shutdown.signal")
		return nil
	}
	return err
}

func newLogger(cfg *config.Config, level *slog.LevelVar, w io.Writer) *slog.Logger {
	if cfg.Quiet {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.New(h))
}

// openCache returns the configured response cache, or nil when caching is
// off.
func openCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Cache {
	case config.CacheMemory:
		log.Info("main.cache", slog.String("backend", cfg.Cache), slog.Int("size", cfg.CacheSize))
		return memory.New(cfg.CacheSize)
	case config.CacheRedis:
		rc := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rc.Ping(pingCtx).Err(); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		log.Info("main.cache", slog.String("backend", cfg.Cache), slog.String("addr", cfg.RedisAddr))
		return redis.New(redis.Config{Client: rc})
	case config.CacheBolt:
		s, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info("main.cache", slog.String("backend", cfg.Cache), slog.String("path", cfg.BoltPath))
		go purgeLoop(ctx, s, cfg.CacheTTL, log)
		return s, nil
	default:
		return nil, nil
	}
}

// purgeLoop drops expired bolt entries every ttl, at most once a minute,
// until ctx is done.
func purgeLoop(ctx context.Context, s *bolt.Storage, ttl time.Duration, log *slog.Logger) {
	every := ttl
	if every < time.Minute {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Purge(ctx)
			if err != nil {
				log.Warn("main.cache.purge_err", slog.String("err", err.Error()))
				continue
			}
			if n > 0 {
				log.Debug("main.cache.purge", slog.Int("removed", n))
			}
		}
	}
}
