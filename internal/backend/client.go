package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
)

// ErrClosed is returned by calls and subscriptions once the connection is gone.
var ErrClosed = errors.New("backend connection closed")

const (
	EventRecordingState = "recording-state-changed"
	EventProgress       = "transcription-progress"
)

// Config controls the backend websocket connection.
type Config struct {
	URL         string
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// Client speaks the command/reply/event protocol over one websocket and
// implements every backend port.
type Client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	outbound chan []byte
	closing  chan struct{}
	readDone chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	// Events are queued by readLoop and fanned out by eventLoop, so a slow
	// subscriber never holds up command replies. The queue is unbounded.
	eventsMu   sync.Mutex
	eventQueue []inboundFrame
	eventReady chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan replyFrame

	subsMu    sync.Mutex
	nextSub   uint64
	recording map[uint64]*subscriber[domain.RecordingState]
	progress  map[uint64]*subscriber[domain.TranscriptionProgress]

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

type commandFrame struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Args    any    `json:"args,omitempty"`
}

type replyFrame struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type inboundFrame struct {
	replyFrame
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
}

// Dial connects to the backend at cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("backend URL is not configured")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}

	client := &Client{
		conn:      conn,
		logger:    cfg.Logger.With().Str("component", "backend").Logger(),
		outbound:  make(chan []byte, 32),
		closing:    make(chan struct{}),
		readDone:   make(chan struct{}),
		done:       make(chan struct{}),
		eventReady: make(chan struct{}, 1),
		pending:   make(map[string]chan replyFrame),
		recording: make(map[uint64]*subscriber[domain.RecordingState]),
		progress:  make(map[uint64]*subscriber[domain.TranscriptionProgress]),
	}

	client.wg.Add(3)
	go client.readLoop()
	go client.writeLoop()
	go client.eventLoop()
	go func() {
		client.wg.Wait()
		_ = conn.Close()
		client.closeSubscribers()
		close(client.done)
	}()

	return client, nil
}

// Close tears down the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown()
	<-c.done
	return c.waitErr()
}

// Done is closed once the connection has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.conn.Close()
	})
}

func (c *Client) ResetToIdle(ctx context.Context) error {
	return c.call(ctx, "reset_to_idle", nil, nil)
}

func (c *Client) ProcessAudio(ctx context.Context, location string) (string, error) {
	var text string
	if err := c.call(ctx, "process_audio", map[string]string{"audioPath": location}, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	if err := c.call(ctx, "get_settings", nil, &settings); err != nil {
		return domain.Settings{}, &domain.StoreError{Op: "get settings", Err: err}
	}
	return settings, nil
}

func (c *Client) SetSettings(ctx context.Context, settings domain.Settings) error {
	if err := c.call(ctx, "set_settings", map[string]any{"settings": settings}, nil); err != nil {
		return &domain.StoreError{Op: "set settings", Err: err}
	}
	return nil
}

func (c *Client) ResetSettings(ctx context.Context) error {
	if err := c.call(ctx, "reset_settings", nil, nil); err != nil {
		return &domain.StoreError{Op: "reset settings", Err: err}
	}
	return nil
}

func (c *Client) GetDictionary(ctx context.Context) ([]domain.DictionaryEntry, error) {
	var entries []domain.DictionaryEntry
	if err := c.call(ctx, "get_dictionary", nil, &entries); err != nil {
		return nil, &domain.StoreError{Op: "get dictionary", Err: err}
	}
	return entries, nil
}

func (c *Client) DeleteDictionaryEntry(ctx context.Context, original string) error {
	if err := c.call(ctx, "delete_dictionary_entry", map[string]string{"original": original}, nil); err != nil {
		return &domain.StoreError{Op: "delete dictionary entry", Err: err}
	}
	return nil
}

func (c *Client) ClearDictionary(ctx context.Context) error {
	if err := c.call(ctx, "clear_dictionary", nil, nil); err != nil {
		return &domain.StoreError{Op: "clear dictionary", Err: err}
	}
	return nil
}

func (c *Client) GetHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	if err := c.call(ctx, "get_history", nil, &entries); err != nil {
		return nil, &domain.StoreError{Op: "get history", Err: err}
	}
	return entries, nil
}

func (c *Client) ClearHistory(ctx context.Context) error {
	if err := c.call(ctx, "clear_history", nil, nil); err != nil {
		return &domain.StoreError{Op: "clear history", Err: err}
	}
	return nil
}

// SubscribeRecordingState delivers backend recording states in arrival order
// until ctx is cancelled or the connection closes.
func (c *Client) SubscribeRecordingState(ctx context.Context) (<-chan domain.RecordingState, error) {
	return subscribe(ctx, c, c.recording)
}

// SubscribeProgress delivers transcription progress in arrival order until
// ctx is cancelled or the connection closes.
func (c *Client) SubscribeProgress(ctx context.Context) (<-chan domain.TranscriptionProgress, error) {
	return subscribe(ctx, c, c.progress)
}

func subscribe[T any](ctx context.Context, c *Client, subs map[uint64]*subscriber[T]) (<-chan T, error) {
	c.subsMu.Lock()
	select {
	case <-c.closing:
		c.subsMu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.nextSub++
	id := c.nextSub
	sub := &subscriber[T]{ch: make(chan T, 64), done: make(chan struct{})}
	subs[id] = sub
	c.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.subsMu.Lock()
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(sub.done)
			}
			c.subsMu.Unlock()
		case <-c.done:
		}
	}()

	return sub.ch, nil
}

func (c *Client) call(ctx context.Context, command string, args any, result any) error {
	id := uuid.NewString()
	frame, err := json.Marshal(commandFrame{ID: id, Command: command, Args: args})
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}

	replies := make(chan replyFrame, 1)
	c.pendingMu.Lock()
	c.pending[id] = replies
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	select {
	case c.outbound <- frame:
	case <-c.closing:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	var reply replyFrame
	select {
	case reply = <-replies:
	case <-c.closing:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	if !reply.OK {
		message := strings.TrimSpace(reply.Error)
		if message == "" {
			message = command + " failed"
		}
		return errors.New(message)
	}
	if result != nil && len(reply.Result) > 0 && string(reply.Result) != "null" {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", command, err)
		}
	}
	return nil
}

func (c *Client) closedErr() error {
	if err := c.waitErr(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return ErrClosed
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.setErr(fmt.Errorf("failed to send command: %w", err))
				c.shutdown()
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.readDone)
	defer c.shutdown()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				if !isNormalClose(err) {
					c.setErr(fmt.Errorf("failed to read backend frame: %w", err))
				}
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if frame.Event != "" {
			c.enqueueEvent(frame)
			continue
		}
		c.deliverReply(frame.replyFrame)
	}
}

func (c *Client) deliverReply(reply replyFrame) {
	c.pendingMu.Lock()
	replies, ok := c.pending[reply.ID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug().Str("id", reply.ID).Msg("reply for unknown request")
		return
	}
	select {
	case replies <- reply:
	default:
		c.logger.Warn().Str("id", reply.ID).Msg("duplicate reply")
	}
}

func (c *Client) enqueueEvent(frame inboundFrame) {
	c.eventsMu.Lock()
	c.eventQueue = append(c.eventQueue, frame)
	c.eventsMu.Unlock()

	select {
	case c.eventReady <- struct{}{}:
	default:
	}
}

// eventLoop delivers queued events in arrival order. Events read before the
// connection ended are still offered to subscribers.
func (c *Client) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.eventReady:
			c.drainEvents()
		case <-c.readDone:
			c.drainEvents()
			return
		}
	}
}

func (c *Client) drainEvents() {
	for {
		c.eventsMu.Lock()
		if len(c.eventQueue) == 0 {
			c.eventsMu.Unlock()
			return
		}
		frame := c.eventQueue[0]
		c.eventQueue[0] = inboundFrame{}
		c.eventQueue = c.eventQueue[1:]
		c.eventsMu.Unlock()

		c.dispatchEvent(frame.Event, frame.Payload)
	}
}

func (c *Client) dispatchEvent(name string, payload json.RawMessage) {
	switch name {
	case EventRecordingState:
		var state domain.RecordingState
		if err := json.Unmarshal(payload, &state); err != nil {
			c.logger.Warn().Err(err).Msg("malformed recording state event")
			return
		}
		c.logger.Debug().Str("state", string(state)).Msg("recording state event")
		fanOut(c, c.recording, state)
	case EventProgress:
		var progress domain.TranscriptionProgress
		if err := json.Unmarshal(payload, &progress); err != nil {
			c.logger.Warn().Err(err).Msg("malformed progress event")
			return
		}
		fanOut(c, c.progress, progress)
	default:
		c.logger.Debug().Str("event", name).Msg("ignoring event")
	}
}

// fanOut blocks per subscriber so each one sees events in arrival order.
func fanOut[T any](c *Client, subs map[uint64]*subscriber[T], value T) {
	c.subsMu.Lock()
	targets := make([]*subscriber[T], 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	c.subsMu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- value:
			continue
		default:
		}
		select {
		case sub.ch <- value:
		case <-sub.done:
		case <-c.closing:
		}
	}
}

// closeSubscribers runs after readLoop and eventLoop have exited, so no
// sender remains.
func (c *Client) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for id, sub := range c.recording {
		close(sub.ch)
		delete(c.recording, id)
	}
	for id, sub := range c.progress {
		close(sub.ch)
		delete(c.progress, id)
	}
}

func (c *Client) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
