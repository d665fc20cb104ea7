package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"rangerd/pkg/bus"
	"rangerd/pkg/db"
	"rangerd/pkg/telemetry"
	"rangerd/services/api"
	"rangerd/services/dhcpd/internal/config"
	"rangerd/services/dhcpd/internal/engine"
	"rangerd/services/dhcpd/internal/journal"
	"rangerd/services/dhcpd/internal/listener"
	"rangerd/services/dhcpd/internal/reaper"
	"rangerd/services/dhcpd/internal/store"
	"rangerd/services/dhcpd/internal/tftpd"
)

func main() {
	configPath := flag.String("config", "", "path to the rangerd config file")
	flag.Parse()

	if err := run("rangerd", *configPath); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var natsBus *bus.Bus
	if cfg.NATSURL != "" {
		natsBus, err = bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer natsBus.Close()
	}

	leaseStore := store.NewPostgres(pool)
	eng := engine.New(leaseStore, engine.Config{
		DefaultLeaseTime: cfg.DHCP.DefaultLease(),
		MaxLeaseTime:     cfg.DHCP.MaxLease(),
		NakOnUnavailable: cfg.DHCP.NakOnUnavailable,
		ServeInform:      cfg.DHCP.ServeInform,
	}, logger, natsBus)

	errCh := make(chan error, 8)

	// One listener per configured address. A listener that fails stops
	// alone; the others keep serving and readyz reports the gap.
	listenersReady := make([]*atomic.Bool, len(cfg.ListenAddresses))
	for i, addr := range cfg.ListenAddresses {
		ready := new(atomic.Bool)
		listenersReady[i] = ready
		srv := listener.New(addr, eng, logger)
		go func(addr string) {
			if err := srv.Run(ctx, ready); err != nil {
				logger.Printf("ERROR listener %s: %v", addr, err)
			}
		}(addr)
	}

	rp := reaper.New(leaseStore, natsBus, logger, reaper.DefaultInterval)
	go rp.Run(ctx)

	if natsBus != nil {
		jr, err := journal.New(pool, natsBus)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		if err := jr.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		defer jr.Close()
	}

	var apiReady, tftpReady atomic.Bool

	if cfg.API.Enabled {
		orm, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			NamingStrategy: schema.NamingStrategy{SingularTable: false},
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("open orm: %w", err)
		}

		apiLayer, err := api.New(&api.Store{DB: pool, ORM: orm, Bus: natsBus}, api.Config{
			BootstrapToken: cfg.API.BootstrapToken,
		})
		if err != nil {
			return fmt.Errorf("create api: %w", err)
		}
		routes, err := apiLayer.Routes()
		if err != nil {
			return fmt.Errorf("build api routes: %w", err)
		}
		handler := middleware(routes)

		apiServer := &http.Server{
			Addr:    cfg.API.TCPAddr(),
			Handler: handler,
		}
		go shutdownOnCancel(ctx, serviceName, apiServer)
		go func() {
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Printf("INFO api listening on %s", apiServer.Addr)

		if cfg.API.UnixSocketPath != "" {
			_ = os.Remove(cfg.API.UnixSocketPath)
			ln, err := net.Listen("unix", cfg.API.UnixSocketPath)
			if err != nil {
				return fmt.Errorf("api unix socket: %w", err)
			}
			sockServer := &http.Server{Handler: handler}
			go shutdownOnCancel(ctx, serviceName, sockServer)
			go func() {
				if err := sockServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("api unix socket: %w", err)
				}
			}()
			logger.Printf("INFO api listening on %s", cfg.API.UnixSocketPath)
		}
	}
	apiReady.Store(true)

	if cfg.TFTP.Enabled {
		tftpServer := tftpd.NewServer(cfg.TFTP, logger)
		go func() {
			if err := tftpServer.Run(ctx, &tftpReady); err != nil {
				errCh <- fmt.Errorf("tftp: %w", err)
			}
		}()
	} else {
		tftpReady.Store(true)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, ready := range listenersReady {
			if !ready.Load() {
				http.Error(w, "listeners not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if !apiReady.Load() || !tftpReady.Load() {
			http.Error(w, "components not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	opsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: middleware(mux),
	}
	go shutdownOnCancel(ctx, serviceName, opsServer)
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops: %w", err)
		}
	}()
	logger.Printf("INFO ops listening on %s", opsServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func shutdownOnCancel(ctx context.Context, serviceName string, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
	}
}
