// Package handler содержит HTTP-обработчики API сервиса учёта платежей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rodrigues/cobranca-system/internal/interest"
	"github.com/rodrigues/cobranca-system/internal/model"
	"github.com/rodrigues/cobranca-system/internal/repository"
	"github.com/rodrigues/cobranca-system/internal/service"
	"github.com/rodrigues/cobranca-system/internal/settlement"
	"github.com/rodrigues/cobranca-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCustomer(ctx context.Context, name, cpf string) (*model.Customer, error)
	GetCustomers(ctx context.Context) ([]repository.CustomerListItem, error)
	GetCustomer(ctx context.Context, id int64, status *model.ChargeStatus, order repository.ChargeOrder) (*model.Customer, []model.Charge, error)
	UpdateCustomer(ctx context.Context, id int64, name, cpf string) (*model.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	CreateCharge(ctx context.Context, customerID int64, amount decimal.Decimal, dueDate time.Time) (*model.Charge, error)
	GetCharge(ctx context.Context, id int64) (*model.Charge, error)
	GetCharges(ctx context.Context, filter repository.ChargeFilter) (*service.ChargePage, error)
	UpdateCharge(ctx context.Context, id int64, upd repository.ChargeUpdate) (*model.Charge, error)
	DeleteCharge(ctx context.Context, id int64) error
	CalculatePaymentAmount(ctx context.Context, chargeID int64) (*interest.Calculation, error)

	CreatePayment(ctx context.Context, chargeID int64, amount decimal.Decimal, method string) (*model.Payment, error)
	GetPayments(ctx context.Context) ([]repository.PaymentListItem, error)
	GetPayment(ctx context.Context, id int64) (*model.Payment, error)
	DeletePayment(ctx context.Context, id int64) error
}

// Handler реализует HTTP-обработчики API сервиса учёта платежей.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeError переводит бизнес-ошибки в HTTP-статусы. Неожиданные ошибки
// логируются и уходят клиенту как 500 без деталей.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verrs})
		return
	}

	switch {
	case errors.Is(err, settlement.ErrChargeNotFound),
		errors.Is(err, repository.ErrChargeNotFound),
		errors.Is(err, repository.ErrCustomerNotFound),
		errors.Is(err, repository.ErrPaymentNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, settlement.ErrAlreadyPaid),
		errors.Is(err, repository.ErrCustomerExists),
		errors.Is(err, repository.ErrCustomerHasCharges),
		errors.Is(err, service.ErrChargeNotEditable),
		errors.Is(err, service.ErrInvalidTransition):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, settlement.ErrInvalidAmount):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("internal error", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// parseDueDate принимает срок оплаты как RFC3339 или как дату без времени.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

type customerRequest struct {
	Name string `json:"name"`
	CPF  string `json:"cpf"`
}

type customerResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CPF       string `json:"cpf"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func newCustomerResponse(c *model.Customer) customerResponse {
	return customerResponse{
		ID:        c.ID,
		Name:      c.Name,
		CPF:       c.CPF,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

type chargeResponse struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	DueDate    string          `json:"dueDate"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"createdAt"`
	UpdatedAt  string          `json:"updatedAt"`
}

func newChargeResponse(c *model.Charge) chargeResponse {
	return chargeResponse{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		Amount:     c.Amount,
		DueDate:    c.DueDate.Format(time.RFC3339),
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.Format(time.RFC3339),
	}
}

type paymentResponse struct {
	ID       int64           `json:"id"`
	ChargeID int64           `json:"chargeId"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
	PaidAt   string          `json:"paidAt"`
}

func newPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:       p.ID,
		ChargeID: p.ChargeID,
		Amount:   p.Amount,
		Method:   string(p.Method),
		PaidAt:   p.PaidAt.Format(time.RFC3339),
	}
}

// CreateCustomer обрабатывает регистрацию нового клиента.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customer, err := h.service.CreateCustomer(r.Context(), req.Name, req.CPF)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newCustomerResponse(customer))
}

type customerListItemResponse struct {
	customerResponse
	ChargeCount int64 `json:"chargeCount"`
}

// GetCustomers возвращает список всех клиентов с числом обязательств.
func (h *Handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.GetCustomers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]customerListItemResponse, 0, len(customers))
	for i := range customers {
		resp = append(resp, customerListItemResponse{
			customerResponse: newCustomerResponse(&customers[i].Customer),
			ChargeCount:      customers[i].ChargeCount,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type customerDetailsResponse struct {
	customerResponse
	Charges []chargeResponse `json:"charges"`
}

// GetCustomer возвращает клиента вместе с его обязательствами.
// Параметры запроса: status, orderBy (dueDate|amount|status), order (asc|desc).
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var status *model.ChargeStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !model.IsValidChargeStatus(raw) {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown status " + raw})
			return
		}
		s := model.ChargeStatus(raw)
		status = &s
	}

	order := repository.ChargeOrder{}
	switch r.URL.Query().Get("orderBy") {
	case "amount":
		order.Field = "amount"
	case "status":
		order.Field = "status"
	}
	if r.URL.Query().Get("order") == "desc" {
		order.Desc = true
	}

	customer, charges, err := h.service.GetCustomer(r.Context(), id, status, order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := customerDetailsResponse{
		customerResponse: newCustomerResponse(customer),
		Charges:          make([]chargeResponse, 0, len(charges)),
	}
	for i := range charges {
		resp.Charges = append(resp.Charges, newChargeResponse(&charges[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// UpdateCustomer обновляет данные клиента.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	customer, err := h.service.UpdateCustomer(r.Context(), id, req.Name, req.CPF)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCustomerResponse(customer))
}

// DeleteCustomer удаляет клиента без обязательств.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCustomer(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createChargeRequest struct {
	CustomerID int64           `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
	DueDate    string          `json:"dueDate"`
}

// CreateCharge создаёт новое обязательство.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req createChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid dueDate"})
		return
	}

	charge, err := h.service.CreateCharge(r.Context(), req.CustomerID, req.Amount, dueDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newChargeResponse(charge))
}

type chargePageResponse struct {
	Data []chargeResponse `json:"data"`
	Meta struct {
		Total      int64 `json:"total"`
		Page       int   `json:"page"`
		Limit      int   `json:"limit"`
		TotalPages int64 `json:"totalPages"`
	} `json:"meta"`
}

// GetCharges возвращает страницу обязательств.
// Параметры запроса: page, limit, status.
func (h *Handler) GetCharges(w http.ResponseWriter, r *http.Request) {
	filter := repository.ChargeFilter{Page: 1, Limit: 10}

	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page must be a positive integer"})
			return
		}
		filter.Page = page
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 100"})
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("status"); raw != "" {
		if !model.IsValidChargeStatus(raw) {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown status " + raw})
			return
		}
		s := model.ChargeStatus(raw)
		filter.Status = &s
	}

	page, err := h.service.GetCharges(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := chargePageResponse{Data: make([]chargeResponse, 0, len(page.Charges))}
	for i := range page.Charges {
		resp.Data = append(resp.Data, newChargeResponse(&page.Charges[i]))
	}
	resp.Meta.Total = page.Total
	resp.Meta.Page = page.Page
	resp.Meta.Limit = page.Limit
	resp.Meta.TotalPages = page.TotalPages

	h.writeJSON(w, http.StatusOK, resp)
}

// GetCharge возвращает обязательство по идентификатору.
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	charge, err := h.service.GetCharge(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newChargeResponse(charge))
}

type updateChargeRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	DueDate *string          `json:"dueDate"`
	Status  *string          `json:"status"`
}

// UpdateCharge изменяет сумму, срок оплаты или статус обязательства.
func (h *Handler) UpdateCharge(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	upd := repository.ChargeUpdate{Amount: req.Amount}
	if req.DueDate != nil {
		dueDate, err := parseDueDate(*req.DueDate)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid dueDate"})
			return
		}
		upd.DueDate = &dueDate
	}
	if req.Status != nil {
		if !model.IsValidChargeStatus(*req.Status) {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown status " + *req.Status})
			return
		}
		s := model.ChargeStatus(*req.Status)
		upd.Status = &s
	}

	charge, err := h.service.UpdateCharge(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newChargeResponse(charge))
}

// DeleteCharge удаляет обязательство.
func (h *Handler) DeleteCharge(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCharge(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type paymentAmountResponse struct {
	OriginalAmount decimal.Decimal `json:"originalAmount"`
	Interest       decimal.Decimal `json:"interest"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	IsOverdue      bool            `json:"isOverdue"`
	MonthsOverdue  decimal.Decimal `json:"monthsOverdue"`
}

// GetPaymentAmount возвращает сумму к оплате по обязательству с учётом пени.
func (h *Handler) GetPaymentAmount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	calc, err := h.service.CalculatePaymentAmount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, paymentAmountResponse{
		OriginalAmount: calc.OriginalAmount,
		Interest:       calc.Interest,
		TotalAmount:    calc.TotalAmount,
		IsOverdue:      calc.IsOverdue,
		MonthsOverdue:  calc.MonthsOverdue,
	})
}

type createPaymentRequest struct {
	ChargeID int64           `json:"chargeId"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
}

// CreatePayment регистрирует платёж по обязательству.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payment, err := h.service.CreatePayment(r.Context(), req.ChargeID, req.Amount, req.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newPaymentResponse(payment))
}

type paymentListItemResponse struct {
	paymentResponse
	ChargeAmount decimal.Decimal `json:"chargeAmount"`
	CustomerID   int64           `json:"customerId"`
	CustomerName string          `json:"customerName"`
}

// GetPayments возвращает все платежи, новые первыми.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.GetPayments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]paymentListItemResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, paymentListItemResponse{
			paymentResponse: newPaymentResponse(&payments[i].Payment),
			ChargeAmount:    payments[i].ChargeAmount,
			CustomerID:      payments[i].CustomerID,
			CustomerName:    payments[i].CustomerName,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetPayment возвращает платёж по идентификатору.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newPaymentResponse(payment))
}

// DeletePayment удаляет платёж (административная операция).
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
