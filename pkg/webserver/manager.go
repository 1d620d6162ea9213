package webserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const DefaultAddress = ":8080"

type Manager struct {
	r    *mux.Router
	addr string
	// live claims websocket upgrades before the router sees them.
	live *ConnectionManager
}

func NewManager(addr string) *Manager {
	if addr == "" {
		addr = DefaultAddress
	}
	return &Manager{
		r:    mux.NewRouter(),
		addr: addr,
	}
}

func (m *Manager) Router() *mux.Router {
	return m.r
}

// SetLive puts the push channel in front of the router.
func (m *Manager) SetLive(live *ConnectionManager) {
	live.next = m.r
	m.live = live
}

func (m *Manager) Handler() http.Handler {
	if m.live != nil {
		return m.live
	}
	return m.r
}

// Routes lists "METHODS path" for every registered route.
func (m *Manager) Routes() []string {
	var routes []string
	_ = m.r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"ANY"}
		}
		routes = append(routes, fmt.Sprintf("%s %s", strings.Join(methods, ","), pathTemplate))
		return nil
	})
	return routes
}

func (m *Manager) Debug() {
	for _, r := range m.Routes() {
		fmt.Println("ROUTE:", r)
	}
}

// Serve blocks until ctx is done, then shuts the server down gracefully.
func (m *Manager) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr: m.addr,
		// no WriteTimeout: it would cut long lived websocket connections
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           m.Handler(),
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("webserver listening on %s\n", m.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return errors.Wrapf(err, "serving http on %s", m.addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait
	// until the timeout deadline.
	err := srv.Shutdown(shutdownCtx)
	log.Println("webserver shutting down")
	return err
}
