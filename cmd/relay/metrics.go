package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matst80/rendezvous-relay/internal/ledger"
	"github.com/matst80/rendezvous-relay/internal/obs"
	"github.com/matst80/rendezvous-relay/internal/web"
)

type metricsServer struct {
	srv *http.Server
}

// newMetricsServer serves Prometheus metrics plus health, state and dashboard endpoints.
func newMetricsServer(addr string, store ledger.Store) *metricsServer {
	return &metricsServer{srv: &http.Server{Addr: addr, Handler: newOpsMux(store), ReadHeaderTimeout: 5 * time.Second}}
}

func newOpsMux(store ledger.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(store.Snapshot(r.Context()))
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		data := store.Snapshot(r.Context()).ToTemplateMap()
		data["Title"] = "Rendezvous relay"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.Render(w, "dashboard", data); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if store.IsClosing() || !store.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// run serves until ctx is done, then shuts the server down.
func (m *metricsServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		obs.Info("metrics.listening", obs.Fields{"addr": m.srv.Addr})
		errCh <- m.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		// the relay keeps running without its ops endpoints
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": m.srv.Addr})
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.srv.Shutdown(sctx)
}
