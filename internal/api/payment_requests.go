package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/service"
)

func (h *Handler) CreatePaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequestCreate
	if err := decodeJSON(r.Body, &req); err != nil {
		respondWithMalformed(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	pr, err := h.registry.CreateRequest(r.Context(), service.CreateRequestInput{
		ReceiverID:  accountFrom(r.Context()),
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		CallbackURL: req.CallbackURL,
		Channel:     service.ChannelQR,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pr)
}

func (h *Handler) GetPaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	pr, err := h.registry.GetDetails(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pr)
}

func (h *Handler) FulfillPaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.registry.Fulfill(r.Context(), mux.Vars(r)["token"], accountFrom(r.Context()), nil)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) CancelPaymentRequestHandler(w http.ResponseWriter, r *http.Request) {
	pr, err := h.registry.Cancel(r.Context(), mux.Vars(r)["token"], accountFrom(r.Context()))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pr)
}
