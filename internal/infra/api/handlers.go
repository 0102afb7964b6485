package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/adapter"
	"paywall-access/internal/infra/logging"
	"paywall-access/internal/usecase"
)

type purchaseView struct {
	ID                string     `json:"id"`
	ResourceID        string     `json:"resourceId"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	PaymentMethod     string     `json:"paymentMethod"`
	ExternalOrderID   string     `json:"externalOrderId,omitempty"`
	ExternalPaymentID string     `json:"externalPaymentId,omitempty"`
	Status            string     `json:"status"`
	AccessGranted     bool       `json:"accessGranted"`
	AccessExpired     bool       `json:"accessExpired"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiryAt          time.Time  `json:"expiryAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

func toPurchaseView(p *model.Purchase) *purchaseView {
	if p == nil {
		return nil
	}
	return &purchaseView{
		ID:                p.ID,
		ResourceID:        p.ResourceID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		PaymentMethod:     string(p.PaymentMethod),
		ExternalOrderID:   p.ExternalOrderID,
		ExternalPaymentID: p.ExternalPaymentID,
		Status:            string(p.Status),
		AccessGranted:     p.AccessGranted,
		AccessExpired:     p.AccessExpired,
		CreatedAt:         p.CreatedAt,
		ExpiryAt:          p.ExpiryAt,
		CompletedAt:       p.CompletedAt,
	}
}

type orderView struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	KeyID    string `json:"keyId,omitempty"`
}

func (s *Server) toOrderView(o *adapter.Order) *orderView {
	if o == nil {
		return nil
	}
	return &orderView{ID: o.ID, Amount: o.Amount, Currency: o.Currency, Receipt: o.Receipt, KeyID: s.opts.KeyID}
}

// fail writes err and logs anything the caller cannot fix.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeError(w, r, err)
}

func principal(r *http.Request) string {
	p, _ := logging.PrincipalID(r.Context())
	return p
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "malformed json"}
	}
	return nil
}

type createOrderRequest struct {
	ResourceID string `json:"resourceId"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.access.CreateOrder(r.Context(), principal(r), req.ResourceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Order != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"order":    s.toOrderView(res.Order),
		"purchase": toPurchaseView(res.Purchase),
	})
}

type verifyRequest struct {
	OrderID    string `json:"orderId"`
	PaymentID  string `json:"paymentId"`
	Signature  string `json:"signature"`
	PurchaseID string `json:"purchaseId"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.access.Verify(r.Context(), principal(r), usecase.VerifyInput{
		OrderID:    req.OrderID,
		PaymentID:  req.PaymentID,
		Signature:  req.Signature,
		PurchaseID: req.PurchaseID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": toPurchaseView(p)})
}

type statusResponse struct {
	HasAccess  bool       `json:"hasAccess"`
	IsExpired  bool       `json:"isExpired"`
	AccessType string     `json:"accessType"`
	ExpiryDate *time.Time `json:"expiryDate"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.access.Status(r.Context(), principal(r), chi.URLParam(r, "resourceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		HasAccess:  st.HasAccess,
		IsExpired:  st.IsExpired,
		AccessType: string(st.Kind),
		ExpiryDate: st.ExpiryDate,
	})
}

type revealResponse struct {
	URL        string    `json:"url"`
	ExpiryDate time.Time `json:"expiryDate"`
	ExpiresIn  int       `json:"expiresIn"`
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	res, err := s.access.Reveal(r.Context(), principal(r), chi.URLParam(r, "resourceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, revealResponse{
		URL:        res.URL,
		ExpiryDate: res.ExpiryDate,
		ExpiresIn:  int(res.TTL / time.Second),
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxWebhookBytes+1))
	if err != nil {
		s.fail(w, r, &domain.ValidationError{Field: "body", Reason: "unreadable"})
		return
	}
	if int64(len(raw)) > s.opts.MaxWebhookBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "too_large"})
		return
	}
	sig := r.Header.Get(s.opts.SignatureHeader)
	if sig == "" {
		s.fail(w, r, domain.ErrSignatureMismatch)
		return
	}

	outcome, err := s.webhooks.Handle(r.Context(), raw, sig)
	if err != nil {
		if errors.Is(err, domain.ErrSignatureMismatch) {
			writeError(w, r, domain.ErrSignatureMismatch)
			return
		}
		// anything else is retried by the processor
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
