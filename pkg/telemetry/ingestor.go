// Package telemetry receives simulator datagrams over UDP and feeds them
// into the race state store.
package telemetry

import (
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/pubsub"
	"bsrlivetiming/pkg/racestate"
)

const (
	DefaultConnectionTimeout = 30 * time.Second

	// plugin datagrams are far below this
	maxDatagramSize = 2048
)

var ErrAddressInUse = errors.New("address already in use")

type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding udp port %d: %s", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

type Config struct {
	// ListenHost is the local interface to bind, empty for all of them.
	ListenHost        string
	ConnectionTimeout time.Duration
	// Sessions and Statuses receive new sessions and connection changes. Optional.
	Sessions *pubsub.PubSub[model.SessionStarted]
	Statuses *pubsub.PubSub[model.ConnectionStatus]
}

type binding struct {
	conn *net.UDPConn
	port int
	done chan struct{}
	wg   sync.WaitGroup
}

// Ingestor owns the UDP socket. One binding at a time.
type Ingestor struct {
	store   *racestate.Store
	decoder Decoder
	cfg     Config
	now     func() time.Time

	mu         sync.Mutex
	bound      *binding
	target     *net.UDPAddr
	connected  bool
	lastPacket time.Time
}

func NewIngestor(store *racestate.Store, decoder Decoder, cfg Config) *Ingestor {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	return &Ingestor{
		store:   store,
		decoder: decoder,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetCommandAddress sets where requests for the simulator are sent. An
// empty address disables them.
func (in *Ingestor) SetCommandAddress(addr string) error {
	var target *net.UDPAddr
	if addr != "" {
		var err error
		target, err = net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return errors.Wrapf(err, "resolving simulator command address %q", addr)
		}
	}
	in.mu.Lock()
	in.target = target
	in.mu.Unlock()
	return nil
}

func (in *Ingestor) Bind(port int) error {
	in.mu.Lock()
	if in.bound != nil {
		in.mu.Unlock()
		return &BindError{Port: port, Err: errors.Wrapf(ErrAddressInUse, "ingestor already bound to %d", in.bound.port)}
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(in.cfg.ListenHost), Port: port})
	if err != nil {
		in.mu.Unlock()
		if errors.Is(err, syscall.EADDRINUSE) {
			return &BindError{Port: port, Err: ErrAddressInUse}
		}
		return &BindError{Port: port, Err: err}
	}

	b := &binding{conn: conn, port: port, done: make(chan struct{})}
	in.bound = b
	in.connected = false
	in.lastPacket = time.Time{}
	if r, ok := in.decoder.(Resetter); ok {
		r.Reset()
	}
	b.wg.Add(2)
	go in.readLoop(b)
	go in.watch(b)
	in.mu.Unlock()

	log.Printf("udp listener bound on %s\n", conn.LocalAddr())
	if h, ok := in.decoder.(Handshaker); ok {
		for _, req := range h.Handshake() {
			in.send(req)
		}
	}
	return nil
}

// Unbind closes the socket and waits for its goroutines. Safe when not bound.
func (in *Ingestor) Unbind() error {
	in.mu.Lock()
	b := in.bound
	in.bound = nil
	wasConnected := in.connected
	in.connected = false
	in.mu.Unlock()
	if b == nil {
		return nil
	}

	close(b.done)
	err := b.conn.Close()
	b.wg.Wait()
	if wasConnected {
		in.publishStatus(model.Disconnected)
	}
	log.Printf("udp listener on port %d closed\n", b.port)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, "closing udp listener")
	}
	return nil
}

// Port returns the bound port, 0 when not bound.
func (in *Ingestor) Port() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.bound == nil {
		return 0
	}
	return in.bound.conn.LocalAddr().(*net.UDPAddr).Port
}

func (in *Ingestor) Status() model.ConnectionStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.connected {
		return model.Connected
	}
	return model.Disconnected
}

// Clear drops all race data and marks the simulator disconnected until the
// next datagram arrives. The binding is kept.
func (in *Ingestor) Clear() {
	in.mu.Lock()
	wasConnected := in.connected
	in.connected = false
	in.lastPacket = time.Time{}
	if r, ok := in.decoder.(Resetter); ok {
		r.Reset()
	}
	in.mu.Unlock()

	in.store.Clear()
	if wasConnected {
		in.publishStatus(model.Disconnected)
	}
}

// HandleDatagram decodes one datagram into the store. Bad datagrams are
// logged and dropped without touching any state.
func (in *Ingestor) HandleDatagram(b []byte, from net.Addr) {
	d, err := in.decoder.Decode(b, in.store.HasDriver)
	if err != nil {
		log.Printf("Error decoding datagram from %v: %s\n", from, err.Error())
		return
	}

	in.mu.Lock()
	becameConnected := !in.connected
	in.connected = true
	in.lastPacket = in.now()
	in.mu.Unlock()

	in.store.Update(func(st *racestate.State) {
		st.SetConnection(model.Connected)
		if d.Patch != nil {
			d.Patch(st)
		}
	})

	if becameConnected {
		log.Printf("simulator connected from %v\n", from)
		in.publishStatus(model.Connected)
	}
	if d.Session != nil {
		log.Printf("new session: %s at %s\n", d.Session.SessionType, d.Session.TrackName)
		if in.cfg.Sessions != nil {
			in.cfg.Sessions.Publish(pubsub.TopicSessionStarted, *d.Session)
		}
	}
	for _, req := range d.Requests {
		in.send(req)
	}
}

func (in *Ingestor) readLoop(b *binding) {
	defer b.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-b.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Error reading udp datagram: %s\n", err.Error())
			continue
		}
		in.HandleDatagram(buf[:n], from)
	}
}

// watch flips the status to disconnected when no datagram arrives within
// the connection timeout.
func (in *Ingestor) watch(b *binding) {
	defer b.wg.Done()
	period := in.cfg.ConnectionTimeout / 4
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			in.mu.Lock()
			expired := in.connected && in.now().Sub(in.lastPacket) > in.cfg.ConnectionTimeout
			if expired {
				in.connected = false
			}
			in.mu.Unlock()
			if expired {
				log.Printf("no datagram for %s, simulator disconnected\n", in.cfg.ConnectionTimeout)
				in.store.Update(func(st *racestate.State) {
					st.SetConnection(model.Disconnected)
				})
				in.publishStatus(model.Disconnected)
			}
		}
	}
}

func (in *Ingestor) publishStatus(status model.ConnectionStatus) {
	if in.cfg.Statuses != nil {
		in.cfg.Statuses.Publish(pubsub.TopicConnectionStatus, status)
	}
}

func (in *Ingestor) send(req []byte) {
	in.mu.Lock()
	b, target := in.bound, in.target
	in.mu.Unlock()
	if b == nil || target == nil {
		return
	}
	if _, err := b.conn.WriteToUDP(req, target); err != nil {
		log.Printf("Error sending request to simulator at %s: %s\n", target, err.Error())
	}
}
