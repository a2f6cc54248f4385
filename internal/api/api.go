// Package api serves the daemon's HTTP surface: the four
// seal-bridging endpoints fronting SessionFSM, a websocket status
// stream, and two read-only operational endpoints fronting Treasury
// and PresignPool. Routing uses github.com/julienschmidt/httprouter
// and CORS uses github.com/rs/cors, the same pair the sibling
// geth-family fork wires up for its own node HTTP surface, rather than
// a hand-rolled mux and header check.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/rebornbridge/relayer/internal/errkind"
	"github.com/rebornbridge/relayer/internal/presignpool"
	"github.com/rebornbridge/relayer/internal/rlog"
	"github.com/rebornbridge/relayer/internal/sessionfsm"
	"github.com/rebornbridge/relayer/internal/store"
	"github.com/rebornbridge/relayer/internal/treasury"
)

var statusStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusStreamPollInterval is how often handleStatusStream re-reads a
// session's row and pushes it to the socket if anything changed.
const statusStreamPollInterval = 2 * time.Second

// Server owns the HTTP handlers and their wiring to the rest of the
// daemon. Treasury and Pool may be nil, meaning that component is
// disabled; their endpoints answer 503 rather than panicking.
type Server struct {
	fsm      *sessionfsm.FSM
	store    *store.Store
	treasury *treasury.Treasury
	pool     *presignpool.PresignPool
	handler  http.Handler
	log      log.Logger
}

// New builds a Server and its route table. allowedOrigins configures the
// CORS policy for the bridging front end; an empty list allows every
// origin, matching a permissive local/dev default.
func New(fsm *sessionfsm.FSM, st *store.Store, tr *treasury.Treasury, pool *presignpool.PresignPool, allowedOrigins []string) *Server {
	s := &Server{
		fsm:      fsm,
		store:    st,
		treasury: tr,
		pool:     pool,
		log:      rlog.New("api"),
	}

	router := httprouter.New()
	router.POST("/api/seal/start", s.handleStart)
	router.POST("/api/seal/confirm-payment", s.handleConfirmPayment)
	router.POST("/api/seal/confirm-deposit", s.handleConfirmDeposit)
	router.GET("/api/seal/:id/status", s.handleStatus)
	router.GET("/api/seal/:id/stream", s.handleStatusStream)
	router.GET("/api/treasury/balances", s.handleTreasuryBalances)
	router.GET("/api/presign/stats", s.handlePresignStats)

	c := cors.New(cors.Options{
		AllowedOrigins: originsOrWildcard(allowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.handler = c.Handler(router)
	return s
}

func originsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// ServeHTTP lets Server plug directly into http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type startRequest struct {
	ReceiverAddress string `json:"receiverAddress"`
	SourceChain     string `json:"sourceChain"`
}

type startResponse struct {
	SessionID      string `json:"sessionId"`
	PaymentAddress string `json:"paymentAddress"`
	FeeAmount      uint64 `json:"feeAmount"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ReceiverAddress == "" || req.SourceChain == "" {
		writeError(w, http.StatusBadRequest, "receiverAddress and sourceChain are required")
		return
	}

	sess, paymentAddress, feeAmount, err := s.fsm.StartSession(req.ReceiverAddress, req.SourceChain)
	if err != nil {
		s.writeFSMError(w, "seal.start", err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		SessionID:      sess.SessionID,
		PaymentAddress: paymentAddress,
		FeeAmount:      feeAmount,
	})
}

type confirmPaymentRequest struct {
	SessionID   string `json:"sessionId"`
	PaymentTxID string `json:"paymentTxId"`
}

type confirmPaymentResponse struct {
	DepositWalletID string `json:"depositWalletId"`
	DepositAddress  string `json:"depositAddress"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req confirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.PaymentTxID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and paymentTxId are required")
		return
	}

	sess, err := s.fsm.ConfirmPayment(r.Context(), req.SessionID, req.PaymentTxID)
	if err != nil {
		s.writeFSMError(w, "seal.confirm-payment", err)
		return
	}
	writeJSON(w, http.StatusOK, confirmPaymentResponse{
		DepositWalletID: sess.DepositWalletID,
		DepositAddress:  hex.EncodeToString(sess.DepositAddress),
	})
}

type confirmDepositRequest struct {
	SessionID   string `json:"sessionId"`
	NFTContract string `json:"nftContract"`
	TokenID     string `json:"tokenId"`
	TxHash      string `json:"txHash"`
}

func (s *Server) handleConfirmDeposit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req confirmDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.NFTContract == "" || req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "sessionId, nftContract and tokenId are required")
		return
	}

	sess, err := s.fsm.ConfirmDeposit(req.SessionID, req.NFTContract, req.TokenID)
	if err != nil {
		s.writeFSMError(w, "seal.confirm-deposit", err)
		return
	}

	// Respond immediately; the rest of the pipeline runs on
	// its own context since the request's is about to be cancelled.
	go s.fsm.RunPipeline(context.Background(), sess.SessionID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
}

type rebornNFT struct {
	Mint  string `json:"mint"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type statusResponse struct {
	SessionID      string     `json:"sessionId"`
	Status         string     `json:"status"`
	DepositAddress string     `json:"depositAddress,omitempty"`
	SourceChain    string     `json:"sourceChain,omitempty"`
	NFTContract    string     `json:"nftContract,omitempty"`
	TokenID        string     `json:"tokenId,omitempty"`
	TokenURI       string     `json:"tokenUri,omitempty"`
	RebornNFT      *rebornNFT `json:"rebornNFT,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, err := s.store.Load(ps.ByName("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		s.log.Error("api: loading session", "sessionId", ps.ByName("id"), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, statusResponseFromSession(sess))
}

func statusResponseFromSession(sess store.Session) statusResponse {
	resp := statusResponse{
		SessionID:      sess.SessionID,
		Status:         string(sess.Status),
		DepositAddress: hexOrEmpty(sess.DepositAddress),
		SourceChain:    sess.SourceChain,
		NFTContract:    sess.NFTContract,
		TokenID:        sess.TokenID,
		TokenURI:       sess.TokenURI,
		Error:          sess.ErrorMessage,
	}
	if sess.Status == store.StatusComplete {
		resp.RebornNFT = &rebornNFT{
			Mint: sess.MintedAssetAddress,
			Name: sess.NFTName,
		}
	}
	return resp
}

// handleStatusStream upgrades to a websocket and pushes the session's
// status every statusStreamPollInterval until it reaches a terminal
// status or the client disconnects, saving the front end from polling
// GET /status on its own.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID := ps.ByName("id")
	sess, err := s.store.Load(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	conn, err := statusStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("api: websocket upgrade", "sessionId", sessionID, "err", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statusStreamPollInterval)
	defer ticker.Stop()

	var lastStatus store.Status
	for {
		if sess.Status != lastStatus {
			if err := conn.WriteJSON(statusResponseFromSession(sess)); err != nil {
				return
			}
			lastStatus = sess.Status
		}
		if sess.Status.Terminal() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sess, err = s.store.Load(sessionID)
			if err != nil {
				return
			}
		}
	}
}

type treasuryBalancesResponse struct {
	FeeToken string `json:"feeToken"`
	GasToken string `json:"gasToken"`
}

func (s *Server) handleTreasuryBalances(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.treasury == nil {
		writeError(w, http.StatusServiceUnavailable, "treasury disabled")
		return
	}
	fee, gas, err := s.treasury.Balances(r.Context())
	if err != nil {
		s.log.Error("api: reading treasury balances", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, treasuryBalancesResponse{
		FeeToken: strconv.FormatUint(fee, 10),
		GasToken: strconv.FormatUint(gas, 10),
	})
}

type presignStatsResponse struct {
	Available int `json:"available"`
	Leased    int `json:"leased"`
	Consumed  int `json:"consumed"`
	Total     int `json:"total"`
}

func (s *Server) handlePresignStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "presign pool disabled")
		return
	}
	stats, err := s.pool.Stats()
	if err != nil {
		s.log.Error("api: reading presign stats", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, presignStatsResponse{
		Available: stats.Available,
		Leased:    stats.Leased,
		Consumed:  stats.Consumed,
		Total:     stats.Total,
	})
}

// writeFSMError maps a SessionFSM error to an HTTP status: store.ErrNotFound
// to 404 and sessionfsm.ErrWrongStatus to 409, then by errkind.Kind
// (ValidationFailure 400, PaymentUnverified 402, anything else 500).
func (s *Server) writeFSMError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if errors.Is(err, sessionfsm.ErrWrongStatus) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	switch errkind.Classify(err) {
	case errkind.ValidationFailure:
		writeError(w, http.StatusBadRequest, err.Error())
	case errkind.PaymentUnverified:
		writeError(w, http.StatusPaymentRequired, err.Error())
	default:
		s.log.Error("api: "+op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
