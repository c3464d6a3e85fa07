package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/database"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"github.com/dbehnke/dmr-gateway/pkg/network"
)

const (
	defaultCallsPerPage = 25
	maxCallsPerPage     = 200
)

// StatusSource provides the published gateway state
type StatusSource interface {
	Snapshot() network.Snapshot
}

// CallStore is the read side of the call log
type CallStore interface {
	GetRecentPaginated(page, perPage int) ([]database.Call, int64, error)
	GetByTalkgroup(tgID uint32, limit int) ([]database.Call, error)
}

// SubscriberLookup resolves radio ids to directory entries
type SubscriberLookup interface {
	Get(radioID uint32) (*database.Subscriber, error)
}

// API handles REST API endpoints
type API struct {
	logger      *logger.Logger
	status      StatusSource
	calls       CallStore
	subscribers SubscriberLookup
}

// StatusResponse is returned by /api/status
type StatusResponse struct {
	Status  string               `json:"status"`
	Service string               `json:"service"`
	Build   BuildInfo            `json:"build"`
	Uptime  float64              `json:"uptime_seconds"`
	Peers   int                  `json:"peers"`
	Master  network.MasterStatus `json:"master"`
	Streams network.StreamStatus `json:"streams"`
	Echo    network.EchoStatus   `json:"echo"`
	Router  routerStatus         `json:"router"`
	Updated time.Time            `json:"updated"`
}

type routerStatus struct {
	Frames     uint64 `json:"frames"`
	Forwarded  uint64 `json:"forwarded"`
	Contended  uint64 `json:"contended"`
	Suppressed uint64 `json:"suppressed"`
	SendErrors uint64 `json:"send_errors"`
}

// CallsResponse is returned by /api/calls
type CallsResponse struct {
	Calls   []database.Call `json:"calls"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

// NewAPI creates a new API instance. calls may be nil when the call log is
// disabled.
func NewAPI(status StatusSource, calls CallStore, log *logger.Logger) *API {
	return &API{
		logger: log,
		status: status,
		calls:  calls,
	}
}

// HandleStatus handles the /api/status endpoint
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := a.status.Snapshot()
	resp := StatusResponse{
		Status:    "running",
		Service:   "dmr-gateway",
		Build:     GetBuildInfo(),
		Master:    snap.Master,
		Streams:   snap.Streams,
		Echo:      snap.Echo,
		Router: routerStatus{
			Frames:     snap.Router.Frames,
			Forwarded:  snap.Router.Forwarded,
			Contended:  snap.Router.Contended,
			Suppressed: snap.Router.Suppressed,
			SendErrors: snap.Router.SendErrors,
		},
		Updated: snap.Time,
	}
	if !snap.StartedAt.IsZero() {
		resp.Uptime = snap.Time.Sub(snap.StartedAt).Seconds()
	}
	for _, p := range snap.Peers {
		if !p.Self {
			resp.Peers++
		}
	}

	a.writeJSON(w, http.StatusOK, resp)
}

// HandlePeers handles the /api/peers endpoint. The gateway's own session
// toward the master is left out.
func (a *API) HandlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	peers := make([]network.PeerStatus, 0)
	for _, p := range a.status.Snapshot().Peers {
		if !p.Self {
			peers = append(peers, p)
		}
	}
	a.writeJSON(w, http.StatusOK, peers)
}

// HandleCalls handles the /api/calls endpoint. It accepts page and per_page,
// or talkgroup to list the recent calls of one talkgroup.
func (a *API) HandleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	perPage := queryInt(q.Get("per_page"), defaultCallsPerPage)
	if perPage > maxCallsPerPage {
		perPage = maxCallsPerPage
	}
	resp := CallsResponse{Calls: []database.Call{}, Page: page, PerPage: perPage}

	if a.calls == nil {
		a.writeJSON(w, http.StatusOK, resp)
		return
	}

	if tg := q.Get("talkgroup"); tg != "" {
		id, err := strconv.ParseUint(tg, 10, 32)
		if err != nil {
			http.Error(w, "invalid talkgroup", http.StatusBadRequest)
			return
		}
		calls, err := a.calls.GetByTalkgroup(uint32(id), perPage)
		if err != nil {
			a.logger.Error("Failed to query calls", logger.Error(err))
			http.Error(w, "call log unavailable", http.StatusInternalServerError)
			return
		}
		if calls != nil {
			resp.Calls = calls
		}
		resp.Total = int64(len(calls))
		resp.Page = 1
		a.writeJSON(w, http.StatusOK, resp)
		return
	}

	calls, total, err := a.calls.GetRecentPaginated(page, perPage)
	if err != nil {
		a.logger.Error("Failed to query calls", logger.Error(err))
		http.Error(w, "call log unavailable", http.StatusInternalServerError)
		return
	}
	if calls != nil {
		resp.Calls = calls
	}
	resp.Total = total
	a.writeJSON(w, http.StatusOK, resp)
}

// HandleSubscriber handles /api/subscriber?id=N
func (a *API) HandleSubscriber(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.subscribers == nil {
		http.Error(w, "directory disabled", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	sub, err := a.subscribers.Get(uint32(id))
	if err != nil {
		a.logger.Error("Failed to look up subscriber", logger.Error(err))
		http.Error(w, "directory unavailable", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "unknown radio id", http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, sub)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
