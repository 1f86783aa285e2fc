package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/service"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// CreateTransferHandler moves money from the session account. An optional
// Idempotency-Key makes retries replay the first result with 200.
func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithMalformed(w, err)
		return
	}
	hash := sha256.Sum256(body)

	var req domain.TransferRequest
	if err := decodeJSON(bytes.NewReader(body), &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	sender := accountFrom(r.Context())
	res, err := h.transfers.ExecuteTransfer(r.Context(), service.TransferInput{
		SenderID:       &sender,
		ReceiverID:     req.ReceiverID,
		Amount:         req.Amount,
		ReferenceID:    req.ReferenceID,
		Type:           domain.TypeTransfer,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		RequestHash:    hex.EncodeToString(hash[:]),
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithResult(w, res)
}

func respondWithResult(w http.ResponseWriter, res *domain.TransactionResult) {
	if res.Replayed {
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

// TopUpHandler credits the session account's own wallet.
func (h *Handler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TopUpRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	res, err := h.transfers.ExecuteTransfer(r.Context(), service.TransferInput{
		ReceiverID:  accountFrom(r.Context()),
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Type:        domain.TypeRecharge,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.store.GetWallet(r.Context(), accountFrom(r.Context()))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	txns, err := h.store.ListTransactions(r.Context(), accountFrom(r.Context()), limit)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}
