package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"condoflow.io/internal/ids"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/workflow"
)

type createSupplierRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type createAssistanceRequest struct {
	BuildingID         string `json:"building_id"`
	InterventionType   string `json:"intervention_type"`
	SupplierID         string `json:"supplier_id,omitempty"`
	Priority           string `json:"priority,omitempty"`
	Description        string `json:"description,omitempty"`
	RequiresValidation bool   `json:"requires_validation,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

type quotationRequestRequest struct {
	Deadline *time.Time `json:"deadline,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

type scheduleRequest struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
	Notes string     `json:"notes,omitempty"`
}

type notesRequest struct {
	Notes string `json:"notes,omitempty"`
}

type issueCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type assistanceResponse struct {
	ID                string     `json:"id"`
	Sequence          int64      `json:"sequence"`
	BuildingID        string     `json:"building_id"`
	InterventionType  string     `json:"intervention_type"`
	SupplierID        string     `json:"supplier_id,omitempty"`
	Priority          string     `json:"priority"`
	Status            string     `json:"status"`
	Description       string     `json:"description,omitempty"`
	RequiresQuotation bool       `json:"requires_quotation"`
	QuotationDeadline *time.Time `json:"quotation_deadline,omitempty"`
	ScheduledStart    *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd      *time.Time `json:"scheduled_end,omitempty"`
	ActualStart       *time.Time `json:"actual_start,omitempty"`
	ActualEnd         *time.Time `json:"actual_end,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type quotationResponse struct {
	ID           string     `json:"id"`
	AssistanceID string     `json:"assistance_id"`
	SupplierID   string     `json:"supplier_id"`
	AmountCents  int64      `json:"amount_cents"`
	Status       string     `json:"status"`
	ValidityDays int        `json:"validity_days,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type logEntryResponse struct {
	Event      string    `json:"event"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorKind  string    `json:"actor_kind"`
	ActorID    string    `json:"actor_id"`
	Notes      string    `json:"notes,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toAssistanceResponse(a *workflow.Assistance) assistanceResponse {
	return assistanceResponse{
		ID:                a.ID,
		Sequence:          a.Sequence,
		BuildingID:        a.BuildingID,
		InterventionType:  a.InterventionType,
		SupplierID:        a.SupplierID,
		Priority:          string(a.Priority),
		Status:            string(a.Status),
		Description:       a.Description,
		RequiresQuotation: a.RequiresQuotation,
		QuotationDeadline: optTime(a.QuotationDeadline),
		ScheduledStart:    optTime(a.ScheduledStart),
		ScheduledEnd:      optTime(a.ScheduledEnd),
		ActualStart:       optTime(a.ActualStart),
		ActualEnd:         optTime(a.ActualEnd),
		CompletedAt:       optTime(a.CompletedAt),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toQuotationResponse(q *workflow.Quotation, now time.Time) quotationResponse {
	return quotationResponse{
		ID:           q.ID,
		AssistanceID: q.AssistanceID,
		SupplierID:   q.SupplierID,
		AmountCents:  q.AmountCents,
		Status:       string(q.EffectiveStatus(now)),
		ValidityDays: q.ValidityDays,
		SubmittedAt:  optTime(q.SubmittedAt),
		ApprovedAt:   optTime(q.ApprovedAt),
		Notes:        q.Notes,
	}
}

func (a *API) actor(r *http.Request) workflow.Actor {
	return workflow.Actor{Kind: workflow.ActorAdmin, ID: AdminIDFromContext(r.Context())}
}

func (a *API) createSupplier(w http.ResponseWriter, r *http.Request) {
	var req createSupplierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "name and email are required")
		return
	}
	sup := &magiccode.Supplier{
		ID:        ids.New(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.suppliers.Suppliers(r.Context()).Create(r.Context(), sup); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Location", "/v1/admin/suppliers/"+sup.ID)
	writeJSON(w, http.StatusCreated, sup)
}

// issueCode mints a fresh access code. The raw code appears in this response
// and nowhere else; only its hash is stored.
func (a *API) issueCode(w http.ResponseWriter, r *http.Request) {
	supplierID := chi.URLParam(r, "id")
	code, record, err := a.codes.Issue(r.Context(), supplierID, a.cfg.RevokeOnIssue)
	if err != nil {
		if errors.Is(err, magiccode.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "supplier not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, issueCodeResponse{
		Code:      code,
		ExpiresAt: record.ExpiresAt,
	})
}

func (a *API) createAssistance(w http.ResponseWriter, r *http.Request) {
	var req createAssistanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assistance, err := a.workflow.CreateAssistance(r.Context(), &workflow.Assistance{
		BuildingID:         req.BuildingID,
		InterventionType:   req.InterventionType,
		SupplierID:         req.SupplierID,
		Priority:           workflow.Priority(req.Priority),
		Description:        req.Description,
		RequiresValidation: req.RequiresValidation,
		Notes:              req.Notes,
	})
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/assistances/"+assistance.ID)
	writeJSON(w, http.StatusCreated, toAssistanceResponse(assistance))
}

func (a *API) getAssistance(w http.ResponseWriter, r *http.Request) {
	assistance, err := a.workflow.Assistance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceResponse(assistance))
}

func (a *API) listQuotations(w http.ResponseWriter, r *http.Request) {
	quotes, err := a.workflow.Quotations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	now := time.Now().UTC()
	out := make([]quotationResponse, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, toQuotationResponse(q, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) listTransitionLog(w http.ResponseWriter, r *http.Request) {
	entries, err := a.workflow.TransitionLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	out := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntryResponse{
			Event:      string(e.Event),
			From:       string(e.From),
			To:         string(e.To),
			ActorKind:  string(e.ActorKind),
			ActorID:    e.ActorID,
			Notes:      e.Notes,
			OccurredAt: e.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) requestQuotation(w http.ResponseWriter, r *http.Request) {
	var req quotationRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var deadline time.Time
	if req.Deadline != nil {
		deadline = *req.Deadline
	}
	assistance, err := a.workflow.RequestQuotation(r.Context(), a.actor(r), chi.URLParam(r, "id"), deadline, req.Notes)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceResponse(assistance))
}

func (a *API) scheduleWork(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var end time.Time
	if req.End != nil {
		end = *req.End
	}
	if err := a.workflow.ScheduleWork(r.Context(), a.actor(r), chi.URLParam(r, "id"), req.Start, end, req.Notes); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

func (a *API) validateCompletion(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.workflow.ValidateCompletion(r.Context(), a.actor(r), chi.URLParam(r, "id"), req.Notes); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (a *API) cancelAssistance(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.workflow.Cancel(r.Context(), a.actor(r), chi.URLParam(r, "id"), req.Notes); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *API) approveQuotation(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err := a.workflow.ApproveQuotation(r.Context(), a.actor(r), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuotationResponse(q, time.Now().UTC()))
}

func (a *API) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.workflow.RejectQuotation(r.Context(), a.actor(r), chi.URLParam(r, "id"), req.Notes); err != nil {
		handleWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
