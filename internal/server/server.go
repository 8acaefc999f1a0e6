package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/biomet-dash/internal/biomet"
	"github.com/shaunagostinho/biomet-dash/internal/history"
	"github.com/shaunagostinho/biomet-dash/internal/session"
	"github.com/shaunagostinho/biomet-dash/internal/track"
	"github.com/shaunagostinho/biomet-dash/internal/transport"
)

// Server exposes the acquisition session over HTTP and fans records out to
// WebSocket clients.
type Server struct {
	cfg   *Config
	sess  *session.Session
	webFS fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader  websocket.Upgrader
	listPorts func() ([]string, error)
	onConfig  []func(*Config)
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Type   string                `json:"type"` // "hello", "record", "status", "alert", "config"
	Record *RecordFrame          `json:"record,omitempty"`
	Status *session.Status       `json:"status,omitempty"`
	Alert  *Alert                `json:"alert,omitempty"`
	Fields []biomet.DisplayField `json:"fields,omitempty"`
	Config *DisplayConfig        `json:"config,omitempty"`
	Stamp  int64                 `json:"stamp"` // Unix ms
}

// RecordFrame carries one decoded record.
type RecordFrame struct {
	Time      time.Time         `json:"time"`
	Values    biomet.Record     `json:"values"`
	Formatted map[string]string `json:"formatted"`
	Point     *track.Point      `json:"point,omitempty"` // nil without a GPS fix
	Warnings  []string          `json:"warnings,omitempty"`
}

// Alert reports a failed poll tick.
type Alert struct {
	Level   string `json:"level"` // "warn" or "error"
	Tick    uint64 `json:"tick,omitempty"`
	Message string `json:"message"`
}

// SeriesPoint is one sample of a chart series.
type SeriesPoint struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// New creates a new Server. Attach must be called before Run.
func New(cfg *Config, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		listPorts: transport.Ports,
	}
}

// Attach sets the session the server controls.
func (s *Server) Attach(sess *session.Session) {
	s.sess = sess
}

// OnConfigChange registers fn to run after every config update from the API.
func (s *Server) OnConfigChange(fn func(*Config)) {
	s.onConfig = append(s.onConfig, fn)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Session control
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/test-mode", s.handleTestMode)
	mux.HandleFunc("/api/ports", s.handlePorts)

	// Data feeds
	mux.HandleFunc("/api/fields", s.handleFields)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/series", s.handleSeries)
	mux.HandleFunc("/api/track", s.handleTrack)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	return mux
}

// Run starts the HTTP server and the record forwarder.
func (s *Server) Run(ctx context.Context) error {
	if s.sess == nil {
		return errors.New("no session attached")
	}

	go s.forward(ctx)

	s.cfg.mu.RLock()
	addr := s.cfg.Server.ListenAddr
	s.cfg.mu.RUnlock()

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// forward relays every new history entry to the WebSocket clients.
func (s *Server) forward(ctx context.Context) {
	ch, unsubscribe := s.sess.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(Frame{Type: "record", Record: s.recordFrame(e), Stamp: e.Time.UnixMilli()})
		}
	}
}

// StatusChanged broadcasts a session transition. It is installed as the
// session's state hook.
func (s *Server) StatusChanged(st session.Status) {
	log.Printf("[server] session %s (%s records)", st.State, humanize.Comma(int64(st.Records)))
	s.broadcast(Frame{Type: "status", Status: &st, Stamp: time.Now().UnixMilli()})
}

// PollFailed broadcasts a failed tick as an alert. It is installed as the
// session's poll error hook.
func (s *Server) PollFailed(pe *session.PollError) {
	level := "error"
	if errors.Is(pe, session.ErrReadTimeout) || errors.Is(pe, session.ErrNoData) {
		level = "warn"
	}
	s.broadcast(Frame{
		Type:  "alert",
		Alert: &Alert{Level: level, Tick: pe.Tick, Message: pe.Error()},
		Stamp: time.Now().UnixMilli(),
	})
}

func (s *Server) recordFrame(e history.Entry) *RecordFrame {
	rf := &RecordFrame{
		Time:      e.Time,
		Values:    e.Record,
		Formatted: e.Record.Formatted(),
		Warnings:  s.checkThresholds(e.Record),
	}
	if t := track.FromHistory([]history.Entry{e}); len(t.Points) == 1 {
		rf.Point = &t.Points[0]
	}
	return rf
}

// checkThresholds lists the warning conditions a record trips.
func (s *Server) checkThresholds(r biomet.Record) []string {
	s.cfg.mu.RLock()
	th := s.cfg.Display.Thresholds
	s.cfg.mu.RUnlock()

	var out []string
	if th.BattLow > 0 && r.Valid("BattV") && r["BattV"] < th.BattLow {
		out = append(out, "BattV")
	}
	if th.AirTempHigh > 0 && r.Valid("AirTC") && r["AirTC"] > th.AirTempHigh {
		out = append(out, "AirTC")
	}
	if th.MRTHigh > 0 && r.Valid("mrt_blg") && r["mrt_blg"] > th.MRTHigh {
		out = append(out, "mrt_blg")
	}
	if th.MinSats > 0 && r.Valid("NumSats") && r["NumSats"] < float64(th.MinSats) {
		out = append(out, "NumSats")
	}
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Initial frame: schema, status and display config
	st := s.sess.Status()
	s.cfg.mu.RLock()
	display := s.cfg.Display
	s.cfg.mu.RUnlock()
	hello := Frame{
		Type:   "hello",
		Fields: biomet.DashboardFields(),
		Status: &st,
		Config: &display,
		Stamp:  time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, incoming messages are ignored)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if err := s.sess.Connect(r.Context()); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, session.ErrAlreadyConnected) {
			code = http.StatusConflict
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	// The session is disconnected even when teardown reports errors.
	if err := s.sess.Disconnect(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handleTestMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	if err := s.sess.ToggleTestMode(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, session.ErrTestModeDisabled) {
			code = http.StatusForbidden
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Status())
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ports":      ports,
		"configured": s.cfg.SerialSettings().PortPath,
	})
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fields":    biomet.Fields,
		"dashboard": biomet.DashboardFields(),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	e, ok := s.sess.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s.recordFrame(e))
}

// handleSeries serves the chart feed for one field, defaulting to the
// configured chart field.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	if field == "" {
		s.cfg.mu.RLock()
		field = s.cfg.Display.ChartField
		s.cfg.mu.RUnlock()
	}
	if !knownField(field) {
		http.Error(w, "unknown field", 400)
		return
	}

	resp := map[string]interface{}{
		"field":  field,
		"points": series(s.sess.History(), field),
	}
	if d, ok := biomet.Display(field); ok {
		resp["display"] = d
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, track.FromHistory(s.sess.History()))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		before := s.cfg.AcquisitionSettings()
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		if s.sess != nil {
			s.sess.SetTestModeEnabled(s.cfg.TestModeEnabled())
		}
		for _, fn := range s.onConfig {
			fn(s.cfg)
		}
		// The poll loop and history buffer are sized at startup.
		restart := changedAcquisitionKeys(before, s.cfg.AcquisitionSettings())
		for _, key := range restart {
			log.Printf("[config] acquisition.%s saved, takes effect after restart", key)
		}
		// Broadcast updated display config
		s.cfg.mu.RLock()
		display := s.cfg.Display
		s.cfg.mu.RUnlock()
		s.broadcast(Frame{Type: "config", Config: &display, Stamp: time.Now().UnixMilli()})

		writeJSON(w, http.StatusOK, ConfigResult{Status: "ok", RestartRequired: restart})

	default:
		http.Error(w, "method not allowed", 405)
	}
}

// ConfigResult answers a config update. RestartRequired lists the
// acquisition keys that were saved but are not applied to the running
// session.
type ConfigResult struct {
	Status          string   `json:"status"`
	RestartRequired []string `json:"restartRequired"`
}

func changedAcquisitionKeys(before, after AcquisitionConfig) []string {
	keys := []string{}
	if before.PollIntervalMs != after.PollIntervalMs {
		keys = append(keys, "pollIntervalMs")
	}
	if before.ReadTimeoutMs != after.ReadTimeoutMs {
		keys = append(keys, "readTimeoutMs")
	}
	if before.HistorySize != after.HistorySize {
		keys = append(keys, "historySize")
	}
	return keys
}

// series extracts the finite values of field, oldest first.
func series(entries []history.Entry, field string) []SeriesPoint {
	points := make([]SeriesPoint, 0, len(entries))
	for _, e := range entries {
		v := e.Record.Value(field)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		points = append(points, SeriesPoint{Time: e.Time, Value: v})
	}
	return points
}

func knownField(name string) bool {
	for _, f := range biomet.Fields {
		if f == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[ws] marshal %s frame: %v", frame.Type, err)
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
