package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sacco/internal/broadcast"
	intconfig "sacco/internal/config"
	intdb "sacco/internal/db"
	router "sacco/internal/http"
	h "sacco/internal/http/handlers"
	"sacco/internal/mpesa"
	"sacco/internal/notify"
	"sacco/internal/paystate"
	"sacco/internal/repositories"
	"sacco/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	env := intconfig.LoadEnv()
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}

	db := intconfig.ConnectDB(env.DBDSN)
	defer intconfig.CloseDB()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := intdb.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to prepare schema: %v", err)
	}

	var (
		cache    paystate.StatusCache = paystate.NewMemoryCache(env.StatusCacheTTL)
		throttle paystate.Throttle    = paystate.NewMemoryThrottle(env.QueryThrottle)
		hub      broadcast.Hub        = broadcast.NewMemoryHub(broadcast.DefaultBuffer)
	)
	if env.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: env.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to reach redis at %s: %v", env.RedisAddr, err)
		}
		cache = paystate.NewRedisCache(rdb, env.StatusCacheTTL)
		throttle = paystate.NewRedisThrottle(rdb, env.QueryThrottle)
		redisHub := broadcast.NewRedisHub(rdb, broadcast.NewMemoryHub(broadcast.DefaultBuffer))
		go func() {
			if err := redisHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[BROADCAST] redis relay stopped: %v", err)
			}
		}()
		hub = redisHub
		log.Printf("using redis at %s for payment state and seat events", env.RedisAddr)
	}

	var sender notify.Sender = notify.LogSender{}
	if len(env.KafkaBrokers) > 0 {
		ks, err := notify.NewKafkaSender(env.KafkaBrokers, env.NotifyTopic)
		if err != nil {
			log.Fatalf("failed to connect kafka: %v", err)
		}
		defer ks.Close()
		sender = ks
		log.Printf("publishing notifications to kafka topic %s", env.NotifyTopic)
	}
	dispatcher := notify.NewDispatcher(sender, env.NotifyWorkers, env.NotifyQueue)
	defer dispatcher.Close()

	provider := mpesa.NewClient(mpesa.Config{
		BaseURL:        mpesa.BaseURLFor(env.Mpesa.Environment),
		ConsumerKey:    env.Mpesa.ConsumerKey,
		ConsumerSecret: env.Mpesa.ConsumerSecret,
		ShortCode:      env.Mpesa.ShortCode,
		Passkey:        env.Mpesa.Passkey,
		CallbackURL:    env.Mpesa.CallbackURL,
	})

	store := repositories.NewStore(db)
	api := h.API{
		Ledger: services.SeatLedger{Store: store, Hub: hub, HoldTTL: env.HoldTTL},
		Bookings: services.BookingService{
			Store:    store,
			Hub:      hub,
			Notifier: dispatcher,
			Cache:    cache,
		},
		Payments: services.PaymentService{
			Store:    store,
			Provider: provider,
			Cache:    cache,
			Throttle: throttle,
			Hub:      hub,
			Notifier: dispatcher,
		},
		Hub: hub,
	}
	auth := h.Auth{Users: store, Secret: []byte(env.JWTSecret)}

	r := router.NewRouter(env, api, auth)

	// No WriteTimeout: seat streams stay open for as long as the client
	// watches the trip.
	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Printf("server listening on http://localhost%s", env.AppAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown failed: %v", err)
	}

	log.Println("server stopped cleanly.")
}
