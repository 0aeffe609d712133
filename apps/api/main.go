package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mahaj/dupahar-composer/pkg/auth"
	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/composer"
	"github.com/mahaj/dupahar-composer/pkg/config"
	"github.com/mahaj/dupahar-composer/pkg/logging"
	"github.com/mahaj/dupahar-composer/pkg/metrics"
	"github.com/mahaj/dupahar-composer/pkg/upload"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow all for dev, or specific origin
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, HEAD, OPTIONS, PUT, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, "+
			upload.OffsetHeader+", "+upload.ContentTypeHeader+", "+upload.LengthHeader)
		w.Header().Set("Access-Control-Expose-Headers", upload.OffsetHeader+", Location")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// uploadAccess applies the DM rule to private/<channel> object paths.
func uploadAccess(r *http.Request, objectPath string) bool {
	channelID, private := composer.PathChannel(objectPath)
	if !private {
		return true
	}
	claims, ok := auth.FromContext(r.Context())
	return ok && auth.CanAccess(claims.UserID, channelID)
}

func newUploadHandler(media afero.Fs, baseURL string, logger *slog.Logger) *upload.Handler {
	return upload.NewHandler(upload.NewAferoBackend(media, baseURL), logger, upload.WithAccess(uploadAccess))
}

type server struct {
	issuer  *auth.Issuer
	typing  channelstore.TypingLister
	uploads *upload.Handler
	logger  *slog.Logger
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(CORSMiddleware)
	// Preflight requests carry no token and match no method route.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	// Public endpoints
	r.Handle("/login", LoginHandler(s.issuer, s.logger)).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler())
	s.uploads.RegisterMedia(r)

	// Protected endpoints
	protected := r.NewRoute().Subrouter()
	protected.Use(s.issuer.Middleware)
	protected.Handle("/channels/{id}/typing", NewTypingHandler(s.typing, s.logger)).Methods(http.MethodGet)
	s.uploads.RegisterUploads(protected)
	return r
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel).With("service", "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, typing lookups will fail until it is back", "addr", cfg.RedisAddr, "error", err)
	}

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return err
	}
	media := afero.NewBasePathFs(afero.NewOsFs(), cfg.MediaDir)

	s := &server{
		issuer:  auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL),
		typing:  channelstore.NewRedisPresence(rdb, cfg.TypingTTL),
		uploads: newUploadHandler(media, cfg.MediaBaseURL, logger),
		logger:  logger,
	}

	srv := &http.Server{Addr: cfg.APIAddr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("API Service Starting", "addr", cfg.APIAddr, "media_dir", cfg.MediaDir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("api failed", "error", err)
		os.Exit(1)
	}
}
