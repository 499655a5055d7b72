package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/journal"
	"github.com/faultline-io/faultline/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only JSON API over the cache",
	Long: `Serve exposes the cache contents over HTTP for dashboards and
scripts: pending envelopes, session files, and the delivery journal.
The API is read-only; it never mutates the cache.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}

		var jrnl *journal.Journal
		if j, err := journal.Open(filepath.Join(cache.Dir(), "journal.db")); err == nil {
			jrnl = j
			defer jrnl.Close()
		} else {
			logger.Warn("journal unavailable", "error", err)
		}

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           newAPIRouter(cache, jrnl),
			ReadHeaderTimeout: 5 * time.Second,
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)

		errCh := make(chan error, 1)
		go func() {
			logger.Info("serving cache API", "addr", serveAddr, "dir", cache.Dir())
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-sig:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func newAPIRouter(cache *store.Cache, jrnl *journal.Journal) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/envelopes", func(w http.ResponseWriter, _ *http.Request) {
			pending, err := cache.PendingEnvelopes()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, pending)
		})

		r.Get("/envelopes/{id}", func(w http.ResponseWriter, req *http.Request) {
			env, err := cache.OpenEnvelope(chi.URLParam(req, "id"))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					writeError(w, http.StatusNotFound, err)
					return
				}
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, env)
		})

		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			out := struct {
				Current  *event.Session `json:"current,omitempty"`
				Previous *event.Session `json:"previous,omitempty"`
			}{}
			if sess, err := cache.ReadCurrentSession(); err == nil {
				out.Current = sess
			}
			if sess, err := cache.ReadPreviousSession(); err == nil {
				out.Previous = sess
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/journal", func(w http.ResponseWriter, _ *http.Request) {
			if jrnl == nil {
				writeError(w, http.StatusServiceUnavailable,
					errors.New("journal unavailable"))
				return
			}
			entries, err := jrnl.Recent(100)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprint(err)})
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8671",
		"listen address for the cache API")
	rootCmd.AddCommand(serveCmd)
}
