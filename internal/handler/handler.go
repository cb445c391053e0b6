package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/beansplit/beansplit/internal/infrastructure/identity"
	service "github.com/beansplit/beansplit/internal/services"
	pkgerrors "github.com/beansplit/beansplit/pkg/errors"
	"github.com/gorilla/mux"
)

const dateLayout = "2006-01-02"

type Handler struct {
	purchases      service.PurchaseService
	reconciliation service.ReconciliationService
}

func NewHandler(purchases service.PurchaseService, reconciliation service.ReconciliationService) *Handler {
	return &Handler{purchases: purchases, reconciliation: reconciliation}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the business error taxonomy to HTTP codes; unknown
// errors are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrNoParticipants),
		errors.Is(err, pkgerrors.ErrInvalidParticipantCount),
		errors.Is(err, pkgerrors.ErrNegativeAmount):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrPurchaseNotFound),
		errors.Is(err, pkgerrors.ErrPaymentShareNotFound),
		errors.Is(err, pkgerrors.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrPaymentAlreadyPaid),
		errors.Is(err, pkgerrors.ErrInvalidStateTransition),
		errors.Is(err, pkgerrors.ErrDuplicateReference):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/purchases/group", h.CreateGroupPurchase).Methods("POST")
	r.HandleFunc("/purchases/personal", h.CreatePersonalPurchase).Methods("POST")
	r.HandleFunc("/purchases/{id}/settle", h.SettleShare).Methods("POST")
	r.HandleFunc("/purchases/{id}/refund", h.RefundShare).Methods("POST")
	r.HandleFunc("/purchases/{id}/summary", h.GetPurchaseSummary).Methods("GET")
	r.HandleFunc("/purchases/{id}/payment-descriptor", h.PaymentDescriptor).Methods("GET")
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	callerID, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("caller not identified"))
		return 0, false
	}
	return callerID, true
}

func purchaseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	return time.Parse(dateLayout, raw)
}

func (h *Handler) CreateGroupPurchase(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		GroupID        int64   `json:"group_id"`
		TotalAmount    int64   `json:"total_amount"`
		BeanRef        string  `json:"bean_ref"`
		Date           string  `json:"date"`
		ParticipantIDs []int64 `json:"participant_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.GroupID <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("group_id is required"))
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	purchase, shares, err := h.purchases.CreateGroupPurchase(r.Context(), req.GroupID, callerID, req.TotalAmount, req.ParticipantIDs, req.BeanRef, date)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"purchase": purchase,
		"shares":   shares,
	})
}

func (h *Handler) CreatePersonalPurchase(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		TotalAmount int64  `json:"total_amount"`
		BeanRef     string `json:"bean_ref"`
		Date        string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	purchase, err := h.purchases.CreatePersonalPurchase(r.Context(), callerID, req.TotalAmount, req.BeanRef, date)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusCreated, purchase)
}

func (h *Handler) SettleShare(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := purchaseID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Reference string `json:"reference"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	share, err := h.reconciliation.SettleShare(r.Context(), id, req.Reference, callerID)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) RefundShare(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := purchaseID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Reference string `json:"reference"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	share, err := h.reconciliation.RefundShare(r.Context(), id, req.Reference, callerID)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) GetPurchaseSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	id, err := purchaseID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := h.purchases.GetPurchaseSummary(r.Context(), id)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) PaymentDescriptor(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := purchaseID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	descriptor, err := h.purchases.PaymentDescriptor(r.Context(), id, callerID)
	if err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"payment_descriptor": descriptor})
}
