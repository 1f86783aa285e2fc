package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/punchamoorthee/payledger/internal/domain"
)

func (h *Handler) CreateAppHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAppRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	app, key, err := h.gateway.RegisterApp(r.Context(), accountFrom(r.Context()), req.Name)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"app":     app,
		"api_key": key,
	})
}

func (h *Handler) ExternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ExternalTransferRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	res, err := h.gateway.DirectTransfer(r.Context(), appFrom(r.Context()), req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithResult(w, res)
}

func (h *Handler) ExternalCreatePaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequestCreate
	if err := decodeJSON(r.Body, &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	pr, err := h.gateway.CreateExternalRequest(r.Context(), appFrom(r.Context()), req)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pr)
}

func (h *Handler) ExternalGetPaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	pr, err := h.gateway.GetExternalRequest(r.Context(), appFrom(r.Context()), mux.Vars(r)["token"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pr)
}

func (h *Handler) ExternalFulfillPaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	var creds domain.CardCredentials
	if err := decodeJSON(r.Body, &creds); err != nil {
		respondWithMalformed(w, err)
		return
	}
	res, err := h.gateway.FulfillExternalRequest(r.Context(), appFrom(r.Context()), mux.Vars(r)["token"], creds)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) VerifyReferenceHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	merchantID := uuid.Nil
	if v := q.Get("merchant_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "validation_error", "merchant_id must be a UUID")
			return
		}
		merchantID = id
	}
	v, err := h.gateway.VerifyByReference(r.Context(), appFrom(r.Context()), merchantID, q.Get("reference_id"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"received":    v.Received,
		"transaction": v.Transaction,
		"checked_at":  time.Now().UTC(),
	})
}
