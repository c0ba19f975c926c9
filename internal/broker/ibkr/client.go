package ibkr

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/types"
)

// Incoming TWS message IDs.
const (
	msgOrderStatus   = 3
	msgErrMsg        = 4
	msgOpenOrder     = 5
	msgNextValidID   = 9
	msgExecutionData = 11
	msgOpenOrderEnd  = 53
	msgPosition      = 61
	msgPositionEnd   = 62
)

// Outgoing TWS message IDs.
const (
	reqPlaceOrder    = 3
	reqCancelOrder   = 4
	reqIDs           = 8
	reqAllOpenOrders = 16
	reqPositions     = 61
)

type waitResult struct {
	result *broker.OrderResult
	err    error
}

// Client implements the broker.Gateway interface for IBKR. It wraps the
// callback-driven TWS API behind synchronous order calls: each placement
// registers a wait handle keyed by broker order id before submitting, and
// the first matching status or error callback resolves it.
type Client struct {
	cfg    Config
	logger *slog.Logger

	// Connection
	conn        net.Conn
	state       atomic.Int32
	stateMu     sync.Mutex
	writeMu     sync.Mutex
	lastError   error
	connectedAt time.Time

	// Rate limiting
	limiter *rate.Limiter

	// Broker-sequenced order ids, seeded by the nextValidId callback.
	nextOrderID atomic.Int64

	// Pending synchronous waits keyed by broker order id.
	waitsMu sync.Mutex
	waits   map[int64]chan waitResult

	// Live order book, updated by every status/openOrder callback whether or
	// not a wait is pending. permIDs survives order-id rebinding across
	// sessions.
	bookMu  sync.RWMutex
	book    map[int64]*broker.OrderSnapshot
	permIDs map[int64]int64

	// Full-dump collection
	snapMu       sync.Mutex
	openOrderEnd chan struct{}
	positions    []broker.PositionSnapshot
	positionEnd  chan struct{}

	// Listeners
	listenerMu sync.RWMutex
	statusL    broker.StatusListener
	execL      broker.ExecutionListener

	// Shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a new IBKR client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
		waits:   make(map[int64]chan waitResult),
		book:    make(map[int64]*broker.OrderSnapshot),
		permIDs: make(map[int64]int64),
		done:    make(chan struct{}),
	}

	c.state.Store(int32(broker.StateDisconnected))
	c.nextOrderID.Store(1)

	return c
}

// Connect establishes connection to TWS/Gateway.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateConnected {
		return nil
	}

	c.state.Store(int32(broker.StateConnecting))

	c.logger.Info("connecting to IBKR",
		"host", c.cfg.Host,
		"port", c.cfg.Port,
		"client_id", c.cfg.ClientID,
		"paper", c.cfg.PaperTrading,
	)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	dialer := net.Dialer{
		Timeout: c.cfg.ConnectTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(broker.StateError))
		c.lastError = fmt.Errorf("dial: %w", err)
		return fmt.Errorf("%w: %v", types.ErrNotConnected, err)
	}

	c.conn = conn
	c.connectedAt = time.Now()

	if err := c.handshake(); err != nil {
		_ = conn.Close()
		c.state.Store(int32(broker.StateError))
		c.lastError = err
		return fmt.Errorf("handshake: %w", err)
	}

	c.state.Store(int32(broker.StateConnected))

	c.wg.Add(1)
	go c.readLoop(conn)

	// Ask for an order id sequence; nextValidId seeds the counter.
	if err := c.sendMessage(joinFields(reqIDs, 1, 1)); err != nil {
		c.logger.Warn("failed to request order ids", "err", err)
	}

	c.logger.Info("connected to IBKR", "connected_at", c.connectedAt)

	return nil
}

// handshake performs the IB API v100+ connection handshake.
func (c *Client) handshake() error {
	handshake := []byte("API\x00")
	versionStr := fmt.Sprintf("v%d..%d", 100, 151)
	handshake = append(handshake, []byte(versionStr)...)
	handshake = append(handshake, 0)

	if _, err := c.conn.Write(handshake); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	// Read server response (server version + connection time)
	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := c.conn.Read(buf)
	_ = c.conn.SetReadDeadline(time.Time{})

	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}

	c.logger.Debug("handshake response", "bytes", n)

	// START_API = 71, version 2
	startAPI := frameMessage(joinFields(71, 2, c.cfg.ClientID, ""))
	if _, err := c.conn.Write(startAPI); err != nil {
		return fmt.Errorf("write startAPI: %w", err)
	}

	return nil
}

// readLoop reads length-prefixed messages from the connection.
func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	r := bufio.NewReader(conn)
	header := make([]byte, 4)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if _, err := io.ReadFull(r, header); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// A deliberate Disconnect closes the socket under us.
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Error("read error", "err", err)
			c.handleDisconnect()
			return
		}

		size := binary.BigEndian.Uint32(header)
		if size == 0 || size > 1<<20 {
			c.logger.Warn("invalid frame size", "size", size)
			c.handleDisconnect()
			return
		}

		payload := make([]byte, size)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.ReadFull(r, payload); err != nil {
			c.logger.Error("read frame error", "err", err)
			c.handleDisconnect()
			return
		}

		c.processMessage(payload)
	}
}

// processMessage dispatches one decoded message. Handler failures are logged
// and swallowed: this path is shared infrastructure and must never abort.
func (c *Client) processMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in message handler", "panic", r)
		}
	}()

	f := newFieldReader(data)
	msgID := f.int()
	if f.failed() {
		c.logger.Debug("message without id", "size", len(data))
		return
	}

	switch msgID {
	case msgOrderStatus:
		c.handleOrderStatus(f)
	case msgErrMsg:
		c.handleErrMsg(f)
	case msgOpenOrder:
		c.handleOpenOrder(f)
	case msgNextValidID:
		c.handleNextValidID(f)
	case msgExecutionData:
		c.handleExecutionData(f)
	case msgOpenOrderEnd:
		c.handleOpenOrderEnd()
	case msgPosition:
		c.handlePosition(f)
	case msgPositionEnd:
		c.handlePositionEnd()
	default:
		c.logger.Debug("unhandled message type", "msg_id", msgID)
	}
}

// handleNextValidID seeds the broker-sequenced order id counter.
func (c *Client) handleNextValidID(f *fieldReader) {
	f.skip() // version
	id := f.i64()
	if f.failed() {
		return
	}

	for {
		cur := c.nextOrderID.Load()
		if id <= cur {
			return
		}
		if c.nextOrderID.CompareAndSwap(cur, id) {
			c.logger.Debug("order id sequence updated", "next_valid_id", id)
			return
		}
	}
}

// handleDisconnect handles connection loss.
func (c *Client) handleDisconnect() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.State() == broker.StateDisconnected {
		return
	}

	c.state.Store(int32(broker.StateDisconnected))
	c.logger.Warn("disconnected from IBKR")

	if c.cfg.AutoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect.
func (c *Client) reconnectLoop() {
	for i := 0; i < c.cfg.MaxReconnectTries; i++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}

		c.logger.Info("attempting reconnect", "attempt", i+1)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected successfully")
			return
		}

		c.logger.Warn("reconnect failed", "err", err)
	}

	c.logger.Error("max reconnect attempts reached")
}

// sendMessage frames, rate-limits, and writes a message to TWS/Gateway.
func (c *Client) sendMessage(msg string) error {
	if c.State() != broker.StateConnected {
		return types.ErrNotConnected
	}

	if err := c.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.Write(frameMessage(msg))
	return err
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.stateMu.Lock()

	if c.State() == broker.StateDisconnected {
		c.stateMu.Unlock()
		return nil
	}

	// Settle the state before closing the socket: closing interrupts the
	// read loop's blocked read, and its error path re-enters
	// handleDisconnect, which must see the disconnect already handled. The
	// mutex is released before waiting for the same reason.
	c.state.Store(int32(broker.StateDisconnected))
	close(c.done)

	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.stateMu.Unlock()

	c.wg.Wait()

	c.logger.Info("disconnected from IBKR")
	return nil
}

// State returns the current connection state.
func (c *Client) State() broker.ConnectionState {
	return broker.ConnectionState(c.state.Load())
}

// IsConnected returns true if connected.
func (c *Client) IsConnected() bool {
	return c.State() == broker.StateConnected
}

// SetStatusListener registers the status listener (nil deregisters).
func (c *Client) SetStatusListener(l broker.StatusListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.statusL = l
}

// SetExecutionListener registers the execution listener (nil deregisters).
func (c *Client) SetExecutionListener(l broker.ExecutionListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.execL = l
}

// frameMessage prepends the 4-byte big-endian size prefix.
func frameMessage(msg string) []byte {
	size := len(msg)
	data := make([]byte, 4+size)
	binary.BigEndian.PutUint32(data[:4], uint32(size))
	copy(data[4:], msg)
	return data
}

// joinFields builds a null-separated TWS message from mixed values.
func joinFields(fields ...any) string {
	var b strings.Builder
	for _, field := range fields {
		switch v := field.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteString(strconv.Itoa(v))
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		case decimal.Decimal:
			if !v.IsZero() {
				b.WriteString(v.String())
			}
		case types.Side:
			b.WriteString(v.String())
		case types.OrderKind:
			b.WriteString(string(v))
		case types.SecType:
			b.WriteString(string(v))
		case types.Right:
			b.WriteString(string(v))
		case types.TimeInForce:
			b.WriteString(string(v))
		default:
			b.WriteString(fmt.Sprint(v))
		}
		b.WriteByte(0)
	}
	return b.String()
}

// fieldReader walks the null-separated fields of a TWS message.
type fieldReader struct {
	fields [][]byte
	pos    int
	err    bool
}

func newFieldReader(data []byte) *fieldReader {
	parts := strings.Split(strings.TrimSuffix(string(data), "\x00"), "\x00")
	fields := make([][]byte, len(parts))
	for i, p := range parts {
		fields[i] = []byte(p)
	}
	return &fieldReader{fields: fields}
}

func (f *fieldReader) failed() bool { return f.err }

func (f *fieldReader) skip() {
	f.pos++
}

func (f *fieldReader) str() string {
	if f.pos >= len(f.fields) {
		f.err = true
		return ""
	}
	s := string(f.fields[f.pos])
	f.pos++
	return s
}

func (f *fieldReader) int() int {
	s := f.str()
	if f.err {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.err = true
		return 0
	}
	return n
}

func (f *fieldReader) i64() int64 {
	s := f.str()
	if f.err {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.err = true
		return 0
	}
	return n
}

func (f *fieldReader) dec() decimal.Decimal {
	s := f.str()
	if f.err || s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Ensure Client implements broker.Gateway
var _ broker.Gateway = (*Client)(nil)
