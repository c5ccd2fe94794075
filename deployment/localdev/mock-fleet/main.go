package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// serviceState is the toggleable behaviour of one fake service.
type serviceState struct {
	Failing  bool      `json:"failing"`
	DelayMs  int       `json:"delay_ms"`
	Restarts int       `json:"restarts"`
	Since    time.Time `json:"since"`
}

type fleet struct {
	mu       sync.Mutex
	services map[string]*serviceState
}

func newFleet(names []string) *fleet {
	f := &fleet{services: map[string]*serviceState{}}
	for _, name := range names {
		f.services[name] = &serviceState{Since: time.Now().UTC()}
	}
	return f
}

func (f *fleet) get(name string) (serviceState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[name]
	if !ok {
		return serviceState{}, false
	}
	return *s, true
}

func (f *fleet) update(name string, fn func(*serviceState)) (serviceState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[name]
	if !ok {
		return serviceState{}, false
	}
	fn(s)
	return *s, true
}

func (f *fleet) snapshot() map[string]serviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]serviceState, len(f.services))
	for name, s := range f.services {
		out[name] = *s
	}
	return out
}

func main() {
	addr := flag.String("addr", ":9400", "listen address")
	names := flag.String("services", "bridge,clc_listener", "comma separated service names")
	flag.Parse()

	logger := log.New(log.Writer(), "fleet-mock ", log.LstdFlags|log.Lmicroseconds)
	f := newFleet(strings.Split(*names, ","))

	srv := &http.Server{
		Addr:    *addr,
		Handler: newRouter(f, logger),
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server error: %v", err)
	}
}

func newRouter(f *fleet, logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/fleet", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, f.snapshot())
	})

	r.Route("/{service}", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			s, ok := f.get(chi.URLParam(req, "service"))
			if !ok {
				http.NotFound(w, req)
				return
			}
			if s.DelayMs > 0 {
				select {
				case <-time.After(time.Duration(s.DelayMs) * time.Millisecond):
				case <-req.Context().Done():
					return
				}
			}
			if s.Failing {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
		})
		r.Post("/fail", mutate(f, func(s *serviceState, _ *http.Request) {
			s.Failing = true
			s.Since = time.Now().UTC()
		}))
		r.Post("/recover", mutate(f, func(s *serviceState, _ *http.Request) {
			s.Failing = false
			s.DelayMs = 0
			s.Since = time.Now().UTC()
		}))
		r.Post("/slow", mutate(f, func(s *serviceState, req *http.Request) {
			ms, err := strconv.Atoi(req.URL.Query().Get("ms"))
			if err != nil || ms < 0 {
				ms = 2500
			}
			s.DelayMs = ms
		}))
		// Restart heals the service, like a real restart clearing a wedged process.
		r.Post("/restart", mutate(f, func(s *serviceState, _ *http.Request) {
			s.Failing = false
			s.DelayMs = 0
			s.Restarts++
			s.Since = time.Now().UTC()
		}))
	})
	return r
}

func mutate(f *fleet, fn func(*serviceState, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s, ok := f.update(chi.URLParam(req, "service"), func(s *serviceState) { fn(s, req) })
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
