package httpapi

import (
	"net/http"
	"time"

	"condoflow.io/internal/workflow"
)

type portalRequest struct {
	Code   string `json:"code"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type submitQuotationRequest struct {
	Code         string `json:"code"`
	AmountCents  int64  `json:"amount_cents"`
	ValidityDays int    `json:"validity_days"`
	Notes        string `json:"notes,omitempty"`
}

type sessionResponse struct {
	SupplierID       string    `json:"supplier_id"`
	SupplierName     string    `json:"supplier_name"`
	AssistanceID     string    `json:"assistance_id,omitempty"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

func (a *API) call(r *http.Request, code string) workflow.SupplierCall {
	return workflow.SupplierCall{
		Code:      code,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// portalSession validates a magic code and returns the session context the
// portal UI needs. Validation side effects (usage count, session renewal,
// first-use binding) apply here like on any other portal call.
func (a *API) portalSession(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.codes.Validate(r.Context(), req.Code, clientIP(r), r.UserAgent())
	if err != nil {
		if !handleAuthError(w, r, err) {
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SupplierID:       session.Supplier.ID,
		SupplierName:     session.Supplier.Name,
		AssistanceID:     session.AssistanceID,
		SessionExpiresAt: session.SessionExpiresAt,
	})
}

func (a *API) portalAccept(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assistance, err := a.workflow.Accept(r.Context(), a.call(r, req.Code), req.Notes)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceResponse(assistance))
}

func (a *API) portalDecline(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.workflow.Decline(r.Context(), a.call(r, req.Code), req.Reason); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (a *API) portalSubmitQuotation(w http.ResponseWriter, r *http.Request) {
	var req submitQuotationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err := a.workflow.SubmitQuotation(r.Context(), a.call(r, req.Code), req.AmountCents, req.ValidityDays, req.Notes)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQuotationResponse(q, time.Now().UTC()))
}

func (a *API) portalStart(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assistance, err := a.workflow.StartWork(r.Context(), a.call(r, req.Code), req.Notes)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceResponse(assistance))
}

func (a *API) portalComplete(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assistance, err := a.workflow.Complete(r.Context(), a.call(r, req.Code), req.Notes)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceResponse(assistance))
}

func (a *API) portalCancel(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.workflow.CancelBySupplier(r.Context(), a.call(r, req.Code), req.Reason); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
