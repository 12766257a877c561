package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rodrigues/cobranca-system/internal/model"
	"github.com/rodrigues/cobranca-system/internal/repository"
	"github.com/rodrigues/cobranca-system/internal/settlement"
	"github.com/rodrigues/cobranca-system/internal/validation"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testNow = time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)

type stubRepo struct {
	customer    *model.Customer
	customerErr error

	charge    *model.Charge
	chargeErr error

	charges    []model.Charge
	chargesErr error
	total      int64

	payment    *model.Payment
	paymentErr error

	committed    *model.Payment
	commitErr    error
	commitCalled bool
	commitStatus model.ChargeStatus

	updatedCharge *model.Charge
	updateErr     error

	deletePaymentErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateCustomer(ctx context.Context, name, cpf string) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) GetCustomers(ctx context.Context) ([]repository.CustomerListItem, error) {
	return nil, nil
}

func (s *stubRepo) UpdateCustomer(ctx context.Context, id int64, name, cpf string) (*model.Customer, error) {
	return s.customer, s.customerErr
}

func (s *stubRepo) DeleteCustomer(ctx context.Context, id int64) error {
	return s.customerErr
}

func (s *stubRepo) CreateCharge(ctx context.Context, customerID int64, amount decimal.Decimal, dueDate time.Time) (*model.Charge, error) {
	return s.charge, s.chargeErr
}

func (s *stubRepo) GetChargeByID(ctx context.Context, id int64) (*model.Charge, error) {
	if s.charge == nil && s.chargeErr == nil {
		return nil, repository.ErrChargeNotFound
	}
	if s.charge != nil {
		c := *s.charge
		return &c, s.chargeErr
	}
	return nil, s.chargeErr
}

func (s *stubRepo) GetCharges(ctx context.Context, filter repository.ChargeFilter) ([]model.Charge, int64, error) {
	return s.charges, s.total, s.chargesErr
}

func (s *stubRepo) GetChargesByCustomer(ctx context.Context, customerID int64, status *model.ChargeStatus, order repository.ChargeOrder) ([]model.Charge, error) {
	return s.charges, s.chargesErr
}

func (s *stubRepo) UpdateCharge(ctx context.Context, id int64, upd repository.ChargeUpdate) (*model.Charge, error) {
	return s.updatedCharge, s.updateErr
}

func (s *stubRepo) DeleteCharge(ctx context.Context, id int64) error {
	return s.chargeErr
}

func (s *stubRepo) GetPaymentByChargeID(ctx context.Context, chargeID int64) (*model.Payment, error) {
	return s.payment, s.paymentErr
}

func (s *stubRepo) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	return s.payment, s.paymentErr
}

func (s *stubRepo) GetPayments(ctx context.Context) ([]repository.PaymentListItem, error) {
	return nil, nil
}

func (s *stubRepo) CommitSettlement(ctx context.Context, chargeID int64, newStatus model.ChargeStatus, payment model.Payment) (*model.Payment, error) {
	s.commitCalled = true
	s.commitStatus = newStatus
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	if s.committed != nil {
		return s.committed, nil
	}
	payment.ID = 1
	return &payment, nil
}

func (s *stubRepo) DeletePayment(ctx context.Context, id int64) error {
	return s.deletePaymentErr
}

func newTestService(repo *stubRepo) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return testNow }
	return svc
}

func pendingCharge(amount string, dueDate time.Time) *model.Charge {
	return &model.Charge{
		ID:         1,
		CustomerID: 7,
		Amount:     dec(amount),
		DueDate:    dueDate,
		Status:     model.ChargeStatusPendente,
	}
}

func TestCreateCustomer_Validation(t *testing.T) {
	svc := newTestService(&stubRepo{})

	_, err := svc.CreateCustomer(context.Background(), "", "not-a-cpf")

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 field errors, got %v", verrs)
	}
}

func TestCreateCustomer_NormalizesCPF(t *testing.T) {
	repo := &stubRepo{customer: &model.Customer{ID: 1}}
	svc := newTestService(repo)

	_, err := svc.CreateCustomer(context.Background(), "Maria Silva", "529.982.247-25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateCharge_RejectsPastDueDate(t *testing.T) {
	svc := newTestService(&stubRepo{})

	_, err := svc.CreateCharge(context.Background(), 1, dec("100"), testNow.AddDate(0, 0, -1))

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
}

func TestGetCharge_DerivesOverdueStatus(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, -10))
	svc := newTestService(&stubRepo{charge: charge})

	got, err := svc.GetCharge(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.ChargeStatusVencido {
		t.Fatalf("Status = %s, want VENCIDO", got.Status)
	}
}

func TestGetCharge_PaidChargeIsNotOverdue(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, -10))
	charge.Status = model.ChargeStatusPago
	charge.HasPayment = true
	svc := newTestService(&stubRepo{charge: charge})

	got, err := svc.GetCharge(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.ChargeStatusPago {
		t.Fatalf("Status = %s, want PAGO", got.Status)
	}
}

func TestGetCharges_Pagination(t *testing.T) {
	repo := &stubRepo{
		charges: []model.Charge{*pendingCharge("100", testNow.AddDate(0, 0, 5))},
		total:   25,
	}
	svc := newTestService(repo)

	page, err := svc.GetCharges(context.Background(), repository.ChargeFilter{Page: 2, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.TotalPages != 3 {
		t.Fatalf("TotalPages = %d, want 3", page.TotalPages)
	}
	if page.Page != 2 || page.Limit != 10 || page.Total != 25 {
		t.Fatalf("unexpected page meta: %+v", page)
	}
}

func TestUpdateCharge_RejectsPaidCharge(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, 5))
	charge.Status = model.ChargeStatusPago
	charge.HasPayment = true
	svc := newTestService(&stubRepo{charge: charge})

	amount := dec("200")
	_, err := svc.UpdateCharge(context.Background(), 1, repository.ChargeUpdate{Amount: &amount})
	if !errors.Is(err, ErrChargeNotEditable) {
		t.Fatalf("expected ErrChargeNotEditable, got %v", err)
	}
}

func TestUpdateCharge_RejectsDirectPago(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, 5))
	svc := newTestService(&stubRepo{charge: charge, updatedCharge: charge})

	status := model.ChargeStatusPago
	_, err := svc.UpdateCharge(context.Background(), 1, repository.ChargeUpdate{Status: &status})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateCharge_AllowsCancel(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, 5))
	cancelled := *charge
	cancelled.Status = model.ChargeStatusCancelado
	svc := newTestService(&stubRepo{charge: charge, updatedCharge: &cancelled})

	status := model.ChargeStatusCancelado
	got, err := svc.UpdateCharge(context.Background(), 1, repository.ChargeUpdate{Status: &status})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != model.ChargeStatusCancelado {
		t.Fatalf("Status = %s, want CANCELADO", got.Status)
	}
}

func TestCalculatePaymentAmount_NotFound(t *testing.T) {
	svc := newTestService(&stubRepo{})

	_, err := svc.CalculatePaymentAmount(context.Background(), 99)
	if !errors.Is(err, settlement.ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestCalculatePaymentAmount_AlreadyPaid(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, 5))
	charge.HasPayment = true
	svc := newTestService(&stubRepo{charge: charge})

	_, err := svc.CalculatePaymentAmount(context.Background(), 1)
	if !errors.Is(err, settlement.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestCalculatePaymentAmount_Overdue(t *testing.T) {
	// 30 дней просрочки на testNow
	charge := pendingCharge("100", time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC))
	svc := newTestService(&stubRepo{charge: charge})

	calc, err := svc.CalculatePaymentAmount(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calc.TotalAmount.Equal(dec("110")) {
		t.Fatalf("TotalAmount = %s, want 110", calc.TotalAmount)
	}
	if !calc.IsOverdue {
		t.Fatalf("expected IsOverdue")
	}
}

func TestCreatePayment_Success(t *testing.T) {
	charge := pendingCharge("100", time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC))
	repo := &stubRepo{charge: charge}
	svc := newTestService(repo)

	payment, err := svc.CreatePayment(context.Background(), 1, dec("110.00"), "PIX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.commitCalled {
		t.Fatalf("CommitSettlement was not called")
	}
	if repo.commitStatus != model.ChargeStatusPago {
		t.Fatalf("commit status = %s, want PAGO", repo.commitStatus)
	}
	if !payment.Amount.Equal(dec("110.00")) {
		t.Fatalf("Amount = %s, want 110.00", payment.Amount)
	}
	if payment.Method != model.PaymentMethodPix {
		t.Fatalf("Method = %s, want PIX", payment.Method)
	}
}

func TestCreatePayment_AlreadyPaidBeforeAmountCheck(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, 5))
	repo := &stubRepo{
		charge:  charge,
		payment: &model.Payment{ID: 3, ChargeID: 1, Amount: dec("100")},
	}
	svc := newTestService(repo)

	// Сумма тоже неверная: ожидаем именно AlreadyPaid.
	_, err := svc.CreatePayment(context.Background(), 1, dec("1"), "PIX")
	if !errors.Is(err, settlement.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if repo.commitCalled {
		t.Fatalf("CommitSettlement must not be called for a paid charge")
	}
}

func TestCreatePayment_ChargeNotFound(t *testing.T) {
	svc := newTestService(&stubRepo{})

	_, err := svc.CreatePayment(context.Background(), 42, dec("100"), "PIX")
	if !errors.Is(err, settlement.ErrChargeNotFound) {
		t.Fatalf("expected ErrChargeNotFound, got %v", err)
	}
}

func TestCreatePayment_ConstraintViolationMapsToAlreadyPaid(t *testing.T) {
	charge := pendingCharge("100", testNow.AddDate(0, 0, 5))
	repo := &stubRepo{
		charge:    charge,
		commitErr: repository.ErrChargeAlreadyPaid,
	}
	svc := newTestService(repo)

	_, err := svc.CreatePayment(context.Background(), 1, dec("100.00"), "PIX")
	if !errors.Is(err, settlement.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestCreatePayment_InvalidMethod(t *testing.T) {
	svc := newTestService(&stubRepo{})

	_, err := svc.CreatePayment(context.Background(), 1, dec("100"), "CASH")

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
}
