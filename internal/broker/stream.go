package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 5 * time.Second
	heartbeatInterval  = 30 * time.Second
)

// shoonyaStream is the websocket market-data connection to the Noren feed.
// Connect must complete before Subscribe is called; tick, connect and
// disconnect handlers are invoked from the read goroutine.
type shoonyaStream struct {
	host  string
	uid   string
	actid string
	token string

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	stopped chan struct{}

	onTick       func(models.Tick)
	onConnect    func()
	onDisconnect func(error)
}

func newShoonyaStream(host, uid, actid, token string) *shoonyaStream {
	return &shoonyaStream{
		host:  host,
		uid:   uid,
		actid: actid,
		token: token,
	}
}

// Connect dials the feed endpoint, performs the session handshake and
// starts the read and heartbeat loops.
func (s *shoonyaStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apierrors.ErrStreamClosed
	}
	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.host, nil)
	if err != nil {
		return apierrors.NewUpstreamError("stream connect", "websocket dial failed", err)
	}

	connectMsg := map[string]string{
		"t":          "c",
		"uid":        s.uid,
		"actid":      s.actid,
		"susertoken": s.token,
		"source":     sourceAPI,
	}
	if err := writeJSON(conn, connectMsg); err != nil {
		conn.Close()
		return apierrors.NewUpstreamError("stream connect", "handshake write failed", err)
	}

	// The server answers the connect request with {"t":"ck","s":"OK"}.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(wsHandshakeTimeout))
	}
	var ack struct {
		T string `json:"t"`
		S string `json:"s"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return apierrors.NewUpstreamError("stream connect", "handshake read failed", err)
	}
	if ack.T != "ck" || !strings.EqualFold(ack.S, "ok") {
		conn.Close()
		return apierrors.NewUpstreamError("stream connect", "session rejected by feed", apierrors.ErrSessionExpired)
	}
	conn.SetReadDeadline(time.Time{})

	s.conn = conn
	s.stopped = make(chan struct{})
	go s.readLoop(conn, s.stopped)
	go s.heartbeatLoop(conn, s.stopped)

	if s.onConnect != nil {
		go s.onConnect()
	}
	return nil
}

// Close shuts the stream down permanently.
func (s *shoonyaStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	if s.stopped != nil {
		close(s.stopped)
		s.stopped = nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Subscribe requests ticks for the given instruments at the given depth.
func (s *shoonyaStream) Subscribe(instruments []models.InstrumentKey, feed models.FeedType) error {
	t := "t"
	if feed == models.FeedDepth {
		t = "d"
	}
	return s.sendKeyed(t, instruments)
}

// Unsubscribe stops ticks for the given instruments at the given depth.
func (s *shoonyaStream) Unsubscribe(instruments []models.InstrumentKey, feed models.FeedType) error {
	t := "u"
	if feed == models.FeedDepth {
		t = "ud"
	}
	return s.sendKeyed(t, instruments)
}

func (s *shoonyaStream) OnTick(handler func(models.Tick)) { s.onTick = handler }
func (s *shoonyaStream) OnConnect(handler func())         { s.onConnect = handler }
func (s *shoonyaStream) OnDisconnect(handler func(error)) { s.onDisconnect = handler }

// sendKeyed sends a subscribe or unsubscribe frame with keys joined
// as "NSE|22#BSE|508123".
func (s *shoonyaStream) sendKeyed(msgType string, instruments []models.InstrumentKey) error {
	if len(instruments) == 0 {
		return nil
	}
	keys := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		keys = append(keys, inst.String())
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return apierrors.ErrStreamClosed
	}
	return writeJSON(conn, map[string]string{"t": msgType, "k": strings.Join(keys, "#")})
}

func (s *shoonyaStream) readLoop(conn *websocket.Conn, stopped chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopped:
				return
			default:
			}
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			if s.onDisconnect != nil {
				s.onDisconnect(err)
			}
			return
		}
		s.handleMessage(data)
	}
}

func (s *shoonyaStream) heartbeatLoop(conn *websocket.Conn, stopped chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			if err := writeJSON(conn, map[string]string{"t": "h"}); err != nil {
				return
			}
		}
	}
}

// norenTick carries the feed fields. Acknowledgment frames (tk, dk) hold
// the full snapshot; update frames (tf, df) hold only changed fields.
type norenTick struct {
	T   string `json:"t"`
	E   string `json:"e"`
	Tk  string `json:"tk"`
	LP  string `json:"lp"`
	V   string `json:"v"`
	O   string `json:"o"`
	H   string `json:"h"`
	L   string `json:"l"`
	C   string `json:"c"`  // percent change
	Cl  string `json:"cl"` // previous close
	OI  string `json:"oi"`
	FT  string `json:"ft"` // feed time, epoch seconds
	Tbq string `json:"tbq"`
	Tsq string `json:"tsq"`
}

func (s *shoonyaStream) handleMessage(data []byte) {
	var msg norenTick
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.T {
	case "tk", "tf", "dk", "df":
		if s.onTick == nil || msg.E == "" || msg.Tk == "" {
			return
		}
		s.onTick(msg.toTick())
	}
}

func (t norenTick) toTick() models.Tick {
	received := time.Now()
	if t.FT != "" {
		if epoch, err := strconv.ParseInt(t.FT, 10, 64); err == nil {
			received = time.Unix(epoch, 0)
		}
	}
	return models.Tick{
		Instrument:    models.InstrumentKey{Exchange: models.Exchange(t.E), Token: t.Tk},
		LTP:           atof(t.LP),
		Volume:        int64(atoi(t.V)),
		Open:          atof(t.O),
		High:          atof(t.H),
		Low:           atof(t.L),
		Close:         atof(t.Cl),
		ChangePercent: atof(t.C),
		OpenInterest:  int64(atoi(t.OI)),
		ReceivedAt:    received,
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

var _ Stream = (*shoonyaStream)(nil)
