package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/metrics"
	"github.com/ruteri/soulkeeper/revival"
)

// CustodyHandler lets share holders unlock the soul key on the gateway and,
// once unlocked, serves resurrections.
//
// Holders submit their shares one by one. When holder public keys are
// registered with the collector, every submission carries an ECDSA signature
// over the share (see kms.SignShare). The key is reconstructed in memory when
// the threshold is reached and is wiped again by POST /custody/lock.
type CustodyHandler struct {
	collector *kms.ShareCollector
	store     interfaces.SoulStore
	metrics   *metrics.RevivalMetrics
	log       *slog.Logger

	mu       sync.Mutex
	unlocked chan struct{}
}

// ShareSubmission is the body of POST /custody/share.
type ShareSubmission struct {
	// Share in "index:hexdata:fingerprint" form.
	Share interfaces.KeyShare `json:"share"`
	// Signature is the base64 ASN.1 ECDSA signature over the share, if holders are registered.
	Signature string `json:"signature,omitempty"`
	// HolderPubKey is the holder's PEM public key.
	HolderPubKey string `json:"holder_pubkey,omitempty"`
}

// CustodyStatus is returned by GET /custody/status.
type CustodyStatus struct {
	Unlocked bool `json:"unlocked"`
	Pending  int  `json:"pending"`
}

// RevivalResponse is returned by the revive endpoint.
type RevivalResponse struct {
	Result *revival.Result `json:"result"`
	Soul   json.RawMessage `json:"soul,omitempty"`
}

// NewCustodyHandler creates a custody handler around collector. m may be nil.
func NewCustodyHandler(collector *kms.ShareCollector, store interfaces.SoulStore, m *metrics.RevivalMetrics, log *slog.Logger) *CustodyHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &CustodyHandler{
		collector: collector,
		store:     store,
		metrics:   m,
		log:       log,
		unlocked:  make(chan struct{}),
	}
	if collector.IsUnlocked() {
		close(h.unlocked)
	}
	return h
}

// WaitForUnlock blocks until the key has been reconstructed or ctx is done.
func (h *CustodyHandler) WaitForUnlock(ctx context.Context) error {
	h.mu.Lock()
	unlocked := h.unlocked
	h.mu.Unlock()

	select {
	case <-unlocked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Router returns the custody API, to be mounted under /custody.
func (h *CustodyHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.HandleStatus)
	r.Post("/share", h.HandleSubmitShare)
	r.Post("/lock", h.HandleLock)
	return r
}

// HandleStatus reports whether the key is unlocked and how many shares are missing.
//
// Endpoint: GET /custody/status
func (h *CustodyHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CustodyStatus{
		Unlocked: h.collector.IsUnlocked(),
		Pending:  h.collector.Pending(),
	})
}

// HandleSubmitShare accepts one share.
//
// Endpoint: POST /custody/share
// Body: ShareSubmission
func (h *CustodyHandler) HandleSubmitShare(w http.ResponseWriter, r *http.Request) {
	var submission ShareSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&submission); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	if submission.Signature == "" {
		err = h.collector.Submit(submission.Share)
	} else {
		signature, decodeErr := base64.StdEncoding.DecodeString(submission.Signature)
		if decodeErr != nil {
			http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
			return
		}
		err = h.collector.SubmitSigned(submission.Share, signature, []byte(submission.HolderPubKey))
	}
	if err != nil {
		h.log.Warn("Share submission rejected", "err", err, slog.Int("shareIndex", submission.Share.Index))
		http.Error(w, "Share submission failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	status := CustodyStatus{Unlocked: h.collector.IsUnlocked(), Pending: h.collector.Pending()}
	if status.Unlocked {
		h.signalUnlocked()
		h.log.Info("Soul key unlocked", slog.Int("shareIndex", submission.Share.Index))
	} else {
		h.log.Info("Share accepted", slog.Int("shareIndex", submission.Share.Index), slog.Int("pending", status.Pending))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// HandleLock wipes the reconstructed key and pending shares.
//
// Endpoint: POST /custody/lock
func (h *CustodyHandler) HandleLock(w http.ResponseWriter, r *http.Request) {
	h.collector.Lock()

	h.mu.Lock()
	select {
	case <-h.unlocked:
		h.unlocked = make(chan struct{})
	default:
	}
	h.mu.Unlock()

	h.log.Info("Soul key locked")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CustodyStatus{Unlocked: false, Pending: h.collector.Pending()})
}

// HandleRevive resurrects the latest soul of an agent with the unlocked key.
//
// Endpoint: GET /api/v1/agents/{agent}/revive
//
// Responds 423 while the key is locked, 404 when the agent has no souls,
// and 502 for any other failed attempt. The body always carries the result.
func (h *CustodyHandler) HandleRevive(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent")
	if agentID == "" {
		http.Error(w, "Missing agent id in URL", http.StatusBadRequest)
		return
	}

	key, err := h.collector.Key()
	if errors.Is(err, kms.ErrCollectorLocked) {
		http.Error(w, err.Error(), http.StatusLocked)
		return
	}

	o, err := revival.New(revival.Config{Key: key, Store: h.store, Log: h.log, Metrics: h.metrics})
	cryptoutils.WipeBytes(key)
	if err != nil {
		h.log.Error("Failed to create orchestrator", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer o.Close()

	result := o.ResurrectLatest(r.Context(), agentID)
	response := RevivalResponse{Result: result}

	status := http.StatusOK
	switch {
	case result.Success:
		if response.Soul, err = result.Soul.CanonicalJSON(); err != nil {
			h.log.Error("Failed to encode soul", "err", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	case errors.Is(result.Err, interfaces.ErrAgentNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *CustodyHandler) signalUnlocked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.unlocked:
	default:
		close(h.unlocked)
	}
}
