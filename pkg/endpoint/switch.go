// Package endpoint switches the ingestor between simulator endpoints.
package endpoint

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

const DefaultPort = 9600

var ErrBusy = errors.New("endpoint reconfiguration already in progress")

func DefaultConfig() model.ServerEndpointConfig {
	return model.ServerEndpointConfig{
		UDPPort:          DefaultPort,
		SimulatorIP:      "127.0.0.1",
		SimulatorPort:    DefaultPort,
		UDPListenAddress: "127.0.0.1:11095",
		UDPSendAddress:   "127.0.0.1:12095",
	}
}

// ParseUDPPort takes the port of a "host:port" address. Anything else,
// including IPv6 literals and out of range ports, yields DefaultPort.
func ParseUDPPort(addr string) int {
	if strings.Count(addr, ":") != 1 {
		return DefaultPort
	}
	_, portStr, _ := strings.Cut(addr, ":")
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}

type Binder interface {
	Bind(port int) error
	Unbind() error
	SetCommandAddress(addr string) error
}

type Clearer interface {
	Clear()
}

type Saver interface {
	SaveEndpoint(cfg model.ServerEndpointConfig) error
}

// Switch serializes endpoint changes: one reconfiguration at a time, a
// concurrent call is rejected with ErrBusy.
type Switch struct {
	binder Binder
	store  Clearer
	saver  Saver

	inFlight sync.Mutex

	mu      sync.RWMutex
	current model.ServerEndpointConfig
	bound   bool
}

// NewSwitch starts unbound with the default config. saver may be nil.
func NewSwitch(binder Binder, store Clearer, saver Saver) *Switch {
	return &Switch{
		binder:  binder,
		store:   store,
		saver:   saver,
		current: DefaultConfig(),
	}
}

func (s *Switch) Current() model.ServerEndpointConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Switch) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// Reconfigure unbinds, replaces the config and clears the store, then binds
// the port derived from cfg.UDPSendAddress. If that bind fails the previous
// config and binding are restored and the bind error is returned.
func (s *Switch) Reconfigure(ctx context.Context, cfg model.ServerEndpointConfig) (model.ServerEndpointConfig, error) {
	cfg.UDPPort = ParseUDPPort(cfg.UDPSendAddress)
	return s.apply(ctx, cfg)
}

// Configure is Reconfigure with an explicit cfg.UDPPort; a port outside
// 1..65535 falls back to DefaultPort.
func (s *Switch) Configure(ctx context.Context, cfg model.ServerEndpointConfig) (model.ServerEndpointConfig, error) {
	if cfg.UDPPort <= 0 || cfg.UDPPort > 65535 {
		cfg.UDPPort = DefaultPort
	}
	return s.apply(ctx, cfg)
}

func (s *Switch) apply(ctx context.Context, cfg model.ServerEndpointConfig) (model.ServerEndpointConfig, error) {
	if !s.inFlight.TryLock() {
		return s.Current(), ErrBusy
	}
	defer s.inFlight.Unlock()
	if err := ctx.Err(); err != nil {
		return s.Current(), err
	}

	s.mu.RLock()
	prev, wasBound := s.current, s.bound
	s.mu.RUnlock()

	if err := s.binder.Unbind(); err != nil {
		log.Printf("Error closing udp listener: %s\n", err.Error())
	}
	s.set(cfg, false)
	s.store.Clear()
	s.setCommandAddress(cfg.UDPListenAddress)

	if err := s.binder.Bind(cfg.UDPPort); err != nil {
		log.Printf("Error binding udp port %d, restoring %d: %s\n", cfg.UDPPort, prev.UDPPort, err.Error())
		s.setCommandAddress(prev.UDPListenAddress)
		restored := false
		if wasBound {
			if rerr := s.binder.Bind(prev.UDPPort); rerr != nil {
				log.Printf("Error restoring udp port %d: %s\n", prev.UDPPort, rerr.Error())
			} else {
				restored = true
			}
		}
		s.set(prev, restored)
		return prev, err
	}
	s.set(cfg, true)
	log.Printf("endpoint configured: simulator %s:%d, listening on %d\n", cfg.SimulatorIP, cfg.SimulatorPort, cfg.UDPPort)

	if s.saver != nil {
		if err := s.saver.SaveEndpoint(cfg); err != nil {
			log.Printf("Error saving endpoint config: %s\n", err.Error())
		}
	}
	return cfg, nil
}

func (s *Switch) set(cfg model.ServerEndpointConfig, bound bool) {
	s.mu.Lock()
	s.current, s.bound = cfg, bound
	s.mu.Unlock()
}

func (s *Switch) setCommandAddress(addr string) {
	if err := s.binder.SetCommandAddress(addr); err != nil {
		log.Printf("Error setting simulator command address, requests disabled: %s\n", err.Error())
		s.binder.SetCommandAddress("")
	}
}
