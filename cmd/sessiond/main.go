// Command sessiond runs the session-resilience subsystem as a small daemon:
// it validates sessions on demand, keeps tokens fresh in the background, and
// exposes health and metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/authstore"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/config"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/metrics"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/profile"
	"github.com/UtkarshTheDev/HomeMeal-sub000/internal/session"
	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

func main() {
	configPath := flag.String("config", "config/sessiond.yaml", "path to configuration file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if level, perr := logrus.ParseLevel(cfg.LogLevel); perr == nil {
		log.SetLevel(level)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("sessiond exited")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	client, err := supabase.New(supabase.Config{
		ProjectURL: cfg.Supabase.URL,
		AnonKey:    cfg.Supabase.AnonKey,
	})
	if err != nil {
		return err
	}

	store, err := buildStore(cfg.Storage, log)
	if err != nil {
		return err
	}

	profiles, err := buildProfiles(cfg.Postgres, client, log)
	if err != nil {
		return err
	}

	accessor := session.NewAccessor(store, client.Auth(), log)
	validator, err := session.NewValidator(session.Deps{
		Accessor: accessor,
		Auth:     client.Auth(),
		Profiles: profiles,
		RPC:      client.Database(),
		Store:    store,
		Log:      log,
	}, session.Config{
		MaxRetries:   cfg.Validator.MaxRetries,
		RetryBackoff: cfg.Validator.RetryBackoff,
		RepairRPC:    cfg.Validator.RepairRPC,
		Verbose:      cfg.Validator.Verbose,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	registry.MustRegister(metrics.NewSourceCollector("supabase", client.Resilient()))

	var keepAlive *session.KeepAlive
	if cfg.KeepAlive.Enabled {
		keepAlive, err = session.NewKeepAlive(validator, cfg.KeepAlive.Schedule, log)
		if err != nil {
			return err
		}
		keepAlive.Start()
		defer keepAlive.Stop()
	}

	router := buildRouter(validator, registry, log)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("sessiond listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stop:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

func buildStore(cfg config.StorageConfig, log *logrus.Logger) (*authstore.Store, error) {
	preferred, err := authstore.NewSecureFile(cfg.Dir, cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	var fallback authstore.Backend
	if cfg.RedisAddr != "" {
		fallback = authstore.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
	} else {
		log.Warn("no redis fallback configured, using in-memory fallback backend")
		fallback = authstore.NewMemory()
	}

	return authstore.New(preferred, fallback, log), nil
}

func buildProfiles(cfg config.PostgresConfig, client *supabase.Client, log *logrus.Logger) (profile.Store, error) {
	if cfg.DSN == "" {
		return profile.NewPostgRESTStore(client.Database(), ""), nil
	}

	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := profile.Migrate(db); err != nil {
			return nil, err
		}
	}
	log.Info("profile store using direct postgres connection")
	return profile.NewPostgresStore(db, ""), nil
}

func buildRouter(validator *session.Validator, registry *prometheus.Registry, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Post("/v1/session/validate", func(w http.ResponseWriter, req *http.Request) {
		result := validator.Validate(req.Context())
		log.WithFields(logrus.Fields{
			"request_id": req.Header.Get("X-Request-ID"),
			"status":     result.Status.String(),
			"diagnostic": result.Diagnostic,
		}).Info("session validated")

		w.Header().Set("Content-Type", "application/json")
		if !result.Valid() {
			w.WriteHeader(http.StatusUnauthorized)
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	r.Post("/v1/session/signout", func(w http.ResponseWriter, req *http.Request) {
		validator.SignOutAndClear(req.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

// requestID assigns a request id when the client did not send one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			req.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, req)
	})
}
