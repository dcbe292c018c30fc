package control

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status is the JSON body returned by every PTT endpoint.
type Status struct {
	State      string    `json:"state"`
	Changed    *bool     `json:"changed,omitempty"`
	Session    string    `json:"session,omitempty"`
	Started    time.Time `json:"started,omitzero"`
	Frames     int       `json:"frames,omitempty"`
	Connection string    `json:"connection"`
	Generation uint64    `json:"generation"`
}

// Handler serves push-to-talk control over HTTP.
type Handler struct {
	machine Machine
	conn    Conn
}

// NewHandler returns a handler driving m and reporting conn.
func NewHandler(m Machine, conn Conn) *Handler {
	return &Handler{machine: m, conn: conn}
}

// Register adds the PTT routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ptt", h.Get)
	mux.HandleFunc("POST /ptt/down", h.Down)
	mux.HandleFunc("POST /ptt/up", h.Up)
	mux.HandleFunc("POST /ptt/toggle", h.Toggle)
}

// Get reports the current state.
func (h *Handler) Get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status(nil))
}

// Down is a key-down edge. The connection attempt it may trigger outlives
// the request.
func (h *Handler) Down(w http.ResponseWriter, r *http.Request) {
	changed := h.machine.KeyDown(r.Context())
	writeJSON(w, http.StatusOK, h.status(&changed))
}

// Up is a key-up edge.
func (h *Handler) Up(w http.ResponseWriter, _ *http.Request) {
	changed := h.machine.KeyUp()
	writeJSON(w, http.StatusOK, h.status(&changed))
}

// Toggle flips the state.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	h.machine.Toggle(r.Context())
	changed := true
	writeJSON(w, http.StatusOK, h.status(&changed))
}

func (h *Handler) status(changed *bool) Status {
	s := Status{
		State:      h.machine.State().String(),
		Changed:    changed,
		Connection: h.conn.State().String(),
		Generation: h.conn.Generation(),
	}
	if sess, ok := h.machine.Current(); ok {
		s.Session = sess.ID
		s.Started = sess.Started
		s.Frames = sess.Frames
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
