package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokergateway/internal/credential"
	"brokergateway/internal/gateway"
	"brokergateway/internal/monitor"
	"brokergateway/internal/store/sqlstore"
	"brokergateway/internal/upstream"
	"brokergateway/pkg/config"
	"brokergateway/pkg/crypto"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("config loaded: listening on %s, broker %s:%d", cfg.ListenAddr, cfg.BrokerHost, cfg.BrokerPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var keyMgr *crypto.KeyManager
	if cfg.MasterEncryptionKey != "" {
		keyMgr, err = crypto.NewKeyManager()
		if err != nil {
			log.Printf("key manager init failed: %v (credentials stored in plaintext)", err)
		} else {
			log.Printf("key manager initialized (version %d)", keyMgr.CurrentVersion())
		}
	}

	store, err := sqlstore.Open(cfg.StorePath, keyMgr)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer store.Close()

	oauth := credential.NewOAuthClient(cfg.OAuthTokenURL)
	credCache := credential.NewCache(store, oauth, cfg.CredentialTTLSkew)

	poolCfg := gateway.DefaultPoolConfig()
	poolCfg.MaxPerUser = cfg.MaxConnectionsPerUser
	upCfg := upstream.Config{
		Host:                 cfg.BrokerHost,
		Port:                 cfg.BrokerPort,
		UseTLS:               cfg.BrokerUseTLS,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		RequestTimeout:       cfg.RequestTimeout,
		MaxFrameBytes:        cfg.MaxFrameBytes,
	}
	pool := gateway.NewPool(poolCfg, upCfg)
	pool.Start(ctx)

	sysMetrics := monitor.NewSystemMetrics()

	gw := gateway.New(gateway.Config{
		JWTSecret:         cfg.JWTSecret,
		RateLimitMessages: cfg.RateLimitMessages,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, credCache, pool, sysMetrics)

	router := gateway.NewRouter(gw, sysMetrics)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("gateway listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	gw.Shutdown(shutdownCtx)
	cancel()
}
