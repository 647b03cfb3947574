// Package hub fans position updates out to connected clients and routes
// client requests to the tracker through a single actor goroutine.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/model"
)

// DefaultBufferSize is the per-client outbound queue length.
const DefaultBufferSize = 64

var (
	// ErrHubStopped is returned when the actor is no longer accepting events.
	ErrHubStopped = errors.New("hub stopped")
	// ErrClientClosed is returned for events from a disconnected client.
	ErrClientClosed = errors.New("client disconnected")
)

// Tracker is the writer side the hub delegates to. The hub never writes the
// cache itself.
type Tracker interface {
	Snapshot() []model.ObjectView
	Object(id int) (model.TrackedObject, bool)
	Select(clientID string, id int) (bool, error)
	Unselect(clientID string, id int) (bool, error)
	Release(clientID string) []int
	RequestRefresh(id int)
	Search(ctx context.Context, term string, limit int) []model.ObjectView
	QuotaStatus() model.QuotaStatus
	Details(ctx context.Context, id int) (model.ObjectDetails, error)
}

// MetricsRecorder receives hub measurements.
type MetricsRecorder interface {
	SetConnectedClients(n int)
	IncDroppedBroadcast()
	IncStreamMessage(direction, msgType string)
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventDisconnect
)

type event struct {
	kind   eventKind
	client *Client
	msg    ClientMessage
}

// Hub owns the set of connected clients.
type Hub struct {
	tracker Tracker
	inbox   chan event
	stopped chan struct{}

	mu      sync.RWMutex
	clients map[string]*Client

	bufSize     int
	searchLimit int
	metrics     MetricsRecorder
	log         logging.Logger

	replies sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-client outbound queue length.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufSize = n
		}
	}
}

// WithSearchLimit caps search results.
func WithSearchLimit(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.searchLimit = n
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// New constructs a Hub. Run must be started before client events are
// processed.
func New(t Tracker, opts ...Option) *Hub {
	h := &Hub{
		tracker:     t,
		inbox:       make(chan event, 256),
		stopped:     make(chan struct{}),
		clients:     make(map[string]*Client),
		bufSize:     DefaultBufferSize,
		searchLimit: 10,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Client is one connected session.
type Client struct {
	id   string
	out  chan ServerMessage
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	lastSent map[int]time.Time
}

// ID returns the session id.
func (c *Client) ID() string { return c.id }

// Out delivers messages for this client in order.
func (c *Client) Out() <-chan ServerMessage { return c.out }

// Done is closed when the client is disconnected.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connect registers a client and queues the initial snapshot ahead of any
// position update.
func (h *Hub) Connect(ctx context.Context) (*Client, error) {
	select {
	case <-h.stopped:
		return nil, ErrHubStopped
	default:
	}

	c := &Client{
		id:       uuid.NewString(),
		out:      make(chan ServerMessage, h.bufSize+1),
		done:     make(chan struct{}),
		lastSent: make(map[int]time.Time),
	}

	// Publishers block on c.mu until the snapshot is queued.
	c.mu.Lock()
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	snap := h.tracker.Snapshot()
	for _, v := range snap {
		if v.Position != nil {
			c.lastSent[v.ID] = v.Position.Timestamp
		}
	}
	c.out <- ServerMessage{Type: TypeInitialSnapshot, Objects: snap}
	c.mu.Unlock()

	h.countOut(TypeInitialSnapshot)
	if h.metrics != nil {
		h.metrics.SetConnectedClients(n)
	}
	logging.LoggerFromContext(ctx, h.log).Info(ctx, "client connected",
		logging.String("client_id", c.id),
		logging.Int("objects", len(snap)),
	)
	return c, nil
}

// Disconnect stops delivery to c and releases its selections.
func (h *Hub) Disconnect(c *Client) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetConnectedClients(n)
	}

	select {
	case h.inbox <- event{kind: eventDisconnect, client: c}:
	case <-h.stopped:
		h.tracker.Release(c.id)
	}
}

// Handle queues a client request for the actor.
func (h *Hub) Handle(ctx context.Context, c *Client, msg ClientMessage) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if h.metrics != nil {
		h.metrics.IncStreamMessage("in", msg.Type)
	}
	select {
	case h.inbox <- event{kind: eventMessage, client: c, msg: msg}:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues a positionUpdate for every client without blocking. A full
// queue drops the update for that client.
func (h *Hub) Publish(objectID int, pos model.Position) {
	obj, ok := h.tracker.Object(objectID)
	if !ok {
		return
	}
	view := model.NewObjectView(obj, &pos)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, objectID, view)
	}
}

func (h *Hub) deliver(c *Client, objectID int, view model.ObjectView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	ts := view.Position.Timestamp
	if last, ok := c.lastSent[objectID]; ok && ts.Before(last) {
		return
	}
	v := view
	select {
	case c.out <- ServerMessage{Type: TypePositionUpdate, Object: &v}:
		c.lastSent[objectID] = ts
		h.countOut(TypePositionUpdate)
	default:
		if h.metrics != nil {
			h.metrics.IncDroppedBroadcast()
		}
	}
}

// reply queues a direct response to c. Replies share the outbound queue and
// are dropped the same way when it is full.
func (h *Hub) reply(c *Client, msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- msg:
		h.countOut(msg.Type)
	default:
		if h.metrics != nil {
			h.metrics.IncDroppedBroadcast()
		}
		h.log.Warn(context.Background(), "client queue full, reply dropped",
			logging.String("client_id", c.id),
			logging.String("type", msg.Type),
		)
	}
}

func (h *Hub) countOut(msgType string) {
	if h.metrics != nil {
		h.metrics.IncStreamMessage("out", msgType)
	}
}

// Run processes client events until ctx is cancelled, then waits for
// outstanding replies.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.stopped)
		h.replies.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			h.drainDisconnects()
			return
		case ev := <-h.inbox:
			h.dispatch(ctx, ev)
		}
	}
}

// drainDisconnects releases selections for clients that left while the
// actor was shutting down. Other queued requests are dropped.
func (h *Hub) drainDisconnects() {
	for {
		select {
		case ev := <-h.inbox:
			if ev.kind == eventDisconnect {
				h.tracker.Release(ev.client.id)
			}
		default:
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev event) {
	c := ev.client
	if ev.kind == eventDisconnect {
		released := h.tracker.Release(c.id)
		h.log.Info(ctx, "client disconnected",
			logging.String("client_id", c.id),
			logging.Int("released", len(released)),
		)
		return
	}

	msg := ev.msg
	switch msg.Type {
	case TypeSelect:
		// A select that raced a disconnect must not outlive its client.
		if c.isClosed() {
			return
		}
		if _, err := h.tracker.Select(c.id, msg.ID); err != nil {
			h.reply(c, errorMessage(err.Error()))
			return
		}
		h.tracker.RequestRefresh(msg.ID)
	case TypeUnselect:
		if _, err := h.tracker.Unselect(c.id, msg.ID); err != nil {
			h.reply(c, errorMessage(err.Error()))
		}
	case TypeGetQuotaStatus:
		q := h.tracker.QuotaStatus()
		h.reply(c, ServerMessage{Type: TypeQuotaStatus, Quota: &q})
	case TypeSearch:
		term := msg.Term
		h.async(func() {
			views := h.tracker.Search(ctx, term, h.searchLimit)
			h.reply(c, ServerMessage{Type: TypeSearchResults, Term: term, Objects: views})
		})
	case TypeGetDetails:
		id := msg.ID
		h.async(func() {
			d, err := h.tracker.Details(ctx, id)
			if err != nil {
				h.reply(c, errorMessage(err.Error()))
				return
			}
			h.reply(c, ServerMessage{Type: TypeObjectDetails, Details: &d})
		})
	default:
		h.reply(c, errorMessage(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// async runs slow requests off the actor so one search cannot stall others.
func (h *Hub) async(fn func()) {
	h.replies.Add(1)
	go func() {
		defer h.replies.Done()
		fn()
	}()
}

// SendError queues an error event for c, for requests that could not be
// decoded before reaching the actor.
func (h *Hub) SendError(c *Client, text string) {
	h.reply(c, errorMessage(text))
}
