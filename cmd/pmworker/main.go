package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pmworker/internal/host"
	"pmworker/internal/pmworker"
	"pmworker/internal/queue"
	"pmworker/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("PMWORKER_CONFIG", "/pmworker.yaml"), "path to pmworker.yaml")
	flag.Parse()

	cfg, err := pmworker.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	caches, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("init cache storage: %v", err)
	}
	defer caches.Close()

	q, err := queue.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("init queue: %v", err)
	}
	defer q.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	windows := host.NewWindows()
	tray := host.NewTray()

	worker, err := pmworker.New(cfg, pmworker.Deps{
		Caches:   caches,
		Queue:    q,
		HTTP:     httpClient,
		Clients:  windows,
		Notifier: tray,
		Beacon:   host.NewHTTPBeacon(httpClient),
	})
	if err != nil {
		log.Fatalf("init worker: %v", err)
	}
	defer worker.Close()

	svc := host.New(worker, host.Options{
		Queue:   q,
		Caches:  caches,
		Windows: windows,
		Tray:    tray,
		HTTP:    httpClient,
	})
	defer svc.Close()

	// A failed install keeps serving with whatever the previous generation
	// left in storage.
	if err := worker.OnInstall(ctx); err != nil {
		log.Printf("startup: %v", err)
	} else if err := worker.OnActivate(ctx); err != nil {
		log.Printf("startup: activate: %v", err)
	} else {
		svc.StartPrefetch()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("pmworker listening on %s, origin=%s, version=%s", addr, cfg.Server.Origin, cfg.Version())
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
