// Package liveclient consumes the live timing feed: a websocket push
// channel with bounded reconnects and an HTTP polling fallback.
package liveclient

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusPolling      Status = "polling"
	// StatusExhausted is terminal until Retry or Connect is called.
	StatusExhausted Status = "exhausted"
)

const (
	DefaultReconnectDelay = 3000 * time.Millisecond
	DefaultMaxReconnects  = 5
	DefaultPollInterval   = 5000 * time.Millisecond
)

var ErrNoTransport = errors.New("no push channel or polling transport configured")

type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. time.AfterFunc in production.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Channel is an open push channel. ReadMessage blocks until a message
// arrives or the channel is closed.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

type Fetcher interface {
	Fetch(ctx context.Context) (model.RaceStateSnapshot, error)
}

type Options struct {
	// Dialer opens the push channel. Nil disables push mode.
	Dialer Dialer
	// Fetcher is used for polling. Nil disables the fallback.
	Fetcher        Fetcher
	RaceID         model.RaceID
	ReconnectDelay time.Duration
	MaxReconnects  int
	PollInterval   time.Duration
	Clock          Clock
}

// Reader keeps the latest snapshot and hands it to listeners, whatever
// transport delivered it.
type Reader struct {
	ctx  context.Context
	opts Options

	mu        sync.Mutex
	status    Status
	snapshot  *model.RaceStateSnapshot
	ch        Channel
	gen       uint64
	attempts  int
	reconnect Timer
	poll      Timer
	pollGen   uint64

	lmu       sync.Mutex
	nextID    int
	updates   map[int]func(model.RaceStateSnapshot)
	statusFns map[int]func(Status)
}

func NewReader(ctx context.Context, opts Options) *Reader {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Reader{
		ctx:       ctx,
		opts:      opts,
		status:    StatusDisconnected,
		updates:   make(map[int]func(model.RaceStateSnapshot)),
		statusFns: make(map[int]func(Status)),
	}
}

func (r *Reader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot returns the latest snapshot; ok is false before the first one.
func (r *Reader) Snapshot() (model.RaceStateSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return model.RaceStateSnapshot{}, false
	}
	return *r.snapshot, true
}

func (r *Reader) Polling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.poll != nil
}

// OnUpdate registers l for every new snapshot. l is called right away with
// the latest snapshot if there is one. The returned func removes l.
func (r *Reader) OnUpdate(l func(model.RaceStateSnapshot)) func() {
	r.lmu.Lock()
	id := r.nextID
	r.nextID++
	r.updates[id] = l
	r.lmu.Unlock()

	if snap, ok := r.Snapshot(); ok {
		safeCall(func() { l(snap) })
	}
	return func() {
		r.lmu.Lock()
		delete(r.updates, id)
		r.lmu.Unlock()
	}
}

func (r *Reader) OnStatus(l func(Status)) func() {
	r.lmu.Lock()
	id := r.nextID
	r.nextID++
	r.statusFns[id] = l
	r.lmu.Unlock()
	return func() {
		r.lmu.Lock()
		delete(r.statusFns, id)
		r.lmu.Unlock()
	}
}

// Connect opens the push channel, or starts polling when push is disabled.
// A failed dial is retried on the reconnect schedule; the error is returned
// for information only.
func (r *Reader) Connect() error {
	r.mu.Lock()
	if r.status == StatusConnecting || r.status == StatusConnected {
		r.mu.Unlock()
		return nil
	}
	if r.opts.Dialer == nil {
		if r.opts.Fetcher == nil {
			r.mu.Unlock()
			return ErrNoTransport
		}
		r.status = StatusPolling
		r.startPollLocked()
		r.mu.Unlock()
		r.notifyStatus(StatusPolling)
		return nil
	}
	r.gen++
	gen := r.gen
	r.attempts = 0
	stopTimer(&r.reconnect)
	r.status = StatusConnecting
	r.mu.Unlock()

	r.notifyStatus(StatusConnecting)
	return r.dial(gen)
}

// Retry is the manual reconnect offered once automatic reconnects are exhausted.
func (r *Reader) Retry() error {
	return r.Connect()
}

// Disconnect tears everything down. Safe from any state, any number of times.
func (r *Reader) Disconnect() {
	r.mu.Lock()
	r.gen++
	r.pollGen++
	stopTimer(&r.reconnect)
	stopTimer(&r.poll)
	ch := r.ch
	r.ch = nil
	r.attempts = 0
	changed := r.status != StatusDisconnected
	r.status = StatusDisconnected
	r.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if changed {
		r.notifyStatus(StatusDisconnected)
	}
}

func (r *Reader) dial(gen uint64) error {
	ch, err := r.opts.Dialer.Dial(r.ctx)

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return nil
	}
	if err != nil {
		status := r.lostLocked(gen)
		r.mu.Unlock()
		log.Printf("Error connecting to live timing: %s\n", err.Error())
		r.notifyStatus(status)
		return errors.Wrap(err, "connecting to live timing")
	}
	r.ch = ch
	r.status = StatusConnected
	r.attempts = 0
	r.pollGen++
	stopTimer(&r.poll)
	r.mu.Unlock()

	r.notifyStatus(StatusConnected)
	if r.opts.RaceID != "" {
		msg, _ := json.Marshal(model.SubscribeMessage{MessageType: model.MessageSubscribe, RaceID: r.opts.RaceID})
		if err := ch.WriteMessage(msg); err != nil {
			log.Printf("Error subscribing to race %s: %s\n", r.opts.RaceID, err.Error())
		}
	}
	go r.readLoop(gen, ch)
	return nil
}

func (r *Reader) readLoop(gen uint64, ch Channel) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			r.closed(gen, ch, err)
			return
		}
		r.handle(data)
	}
}

func (r *Reader) handle(data []byte) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error parsing live timing message: %s\n", err.Error())
		return
	}
	if msg.MessageType != model.MessageLiveUpdate || len(msg.Data) == 0 {
		return
	}
	var snap model.RaceStateSnapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		log.Printf("Error parsing live timing snapshot: %s\n", err.Error())
		return
	}
	r.publish(snap)
}

func (r *Reader) closed(gen uint64, ch Channel, err error) {
	r.mu.Lock()
	if gen != r.gen || r.ch != ch {
		r.mu.Unlock()
		return
	}
	r.ch = nil
	status := r.lostLocked(gen)
	r.mu.Unlock()

	ch.Close()
	log.Printf("live timing channel closed: %s\n", err.Error())
	r.notifyStatus(status)
}

// lostLocked schedules the next reconnect or, when the budget is spent,
// parks the reader in StatusExhausted and falls back to polling.
func (r *Reader) lostLocked(gen uint64) Status {
	if r.attempts >= r.opts.MaxReconnects {
		log.Printf("live timing reconnect attempts exhausted (%d)\n", r.attempts)
		r.status = StatusExhausted
		r.startPollLocked()
		return r.status
	}
	r.attempts++
	log.Printf("reconnecting to live timing in %s (%d/%d)\n", r.opts.ReconnectDelay, r.attempts, r.opts.MaxReconnects)
	r.status = StatusDisconnected
	r.reconnect = r.opts.Clock.AfterFunc(r.opts.ReconnectDelay, func() { r.reconnectFired(gen) })
	return r.status
}

func (r *Reader) reconnectFired(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.reconnect == nil {
		r.mu.Unlock()
		return
	}
	r.reconnect = nil
	r.status = StatusConnecting
	r.mu.Unlock()

	r.notifyStatus(StatusConnecting)
	r.dial(gen)
}

// startPollLocked fetches right away, then every PollInterval.
func (r *Reader) startPollLocked() {
	if r.opts.Fetcher == nil || r.poll != nil {
		return
	}
	r.pollGen++
	gen := r.pollGen
	r.poll = r.opts.Clock.AfterFunc(0, func() { r.pollFired(gen) })
}

func (r *Reader) pollFired(gen uint64) {
	r.mu.Lock()
	if gen != r.pollGen {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	snap, err := r.opts.Fetcher.Fetch(r.ctx)

	r.mu.Lock()
	if gen != r.pollGen {
		r.mu.Unlock()
		return
	}
	r.poll = r.opts.Clock.AfterFunc(r.opts.PollInterval, func() { r.pollFired(gen) })
	r.mu.Unlock()

	if err != nil {
		log.Printf("Error polling live timing: %s\n", err.Error())
		return
	}
	r.publish(snap)
}

func (r *Reader) publish(snap model.RaceStateSnapshot) {
	r.mu.Lock()
	r.snapshot = &snap
	r.mu.Unlock()

	r.lmu.Lock()
	listeners := make([]func(model.RaceStateSnapshot), 0, len(r.updates))
	for _, l := range r.updates {
		listeners = append(listeners, l)
	}
	r.lmu.Unlock()
	for _, l := range listeners {
		safeCall(func() { l(snap) })
	}
}

func (r *Reader) notifyStatus(s Status) {
	r.lmu.Lock()
	listeners := make([]func(Status), 0, len(r.statusFns))
	for _, l := range r.statusFns {
		listeners = append(listeners, l)
	}
	r.lmu.Unlock()
	for _, l := range listeners {
		safeCall(func() { l(s) })
	}
}

func safeCall(f func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Error in live timing listener: %v\n", rec)
		}
	}()
	f()
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
