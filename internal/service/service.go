// Package service реализует бизнес-логику сервиса учёта платежей.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rodrigues/cobranca-system/internal/interest"
	"github.com/rodrigues/cobranca-system/internal/model"
	"github.com/rodrigues/cobranca-system/internal/repository"
	"github.com/rodrigues/cobranca-system/internal/settlement"
	"github.com/rodrigues/cobranca-system/internal/validation"
)

// ErrChargeNotEditable возвращается при попытке изменить оплаченное или отменённое обязательство.
var (
	ErrChargeNotEditable = errors.New("charge is not editable")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateCustomer(ctx context.Context, name, cpf string) (*model.Customer, error)
	GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error)
	GetCustomers(ctx context.Context) ([]repository.CustomerListItem, error)
	UpdateCustomer(ctx context.Context, id int64, name, cpf string) (*model.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	CreateCharge(ctx context.Context, customerID int64, amount decimal.Decimal, dueDate time.Time) (*model.Charge, error)
	GetChargeByID(ctx context.Context, id int64) (*model.Charge, error)
	GetCharges(ctx context.Context, filter repository.ChargeFilter) ([]model.Charge, int64, error)
	GetChargesByCustomer(ctx context.Context, customerID int64, status *model.ChargeStatus, order repository.ChargeOrder) ([]model.Charge, error)
	UpdateCharge(ctx context.Context, id int64, upd repository.ChargeUpdate) (*model.Charge, error)
	DeleteCharge(ctx context.Context, id int64) error

	GetPaymentByChargeID(ctx context.Context, chargeID int64) (*model.Payment, error)
	GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error)
	GetPayments(ctx context.Context) ([]repository.PaymentListItem, error)
	CommitSettlement(ctx context.Context, chargeID int64, newStatus model.ChargeStatus, payment model.Payment) (*model.Payment, error)
	DeletePayment(ctx context.Context, id int64) error
}

// Service содержит бизнес-логику сервиса учёта платежей.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func normalizeCPF(cpf string) string {
	var b strings.Builder
	for _, ch := range cpf {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// CreateCustomer создаёт нового клиента. CPF хранится без форматирования.
func (s *Service) CreateCustomer(ctx context.Context, name, cpf string) (*model.Customer, error) {
	if errs := validation.ValidateCustomer(name, cpf); !errs.Empty() {
		return nil, errs
	}
	return s.repo.CreateCustomer(ctx, strings.TrimSpace(name), normalizeCPF(cpf))
}

// GetCustomers возвращает список всех клиентов с числом обязательств.
func (s *Service) GetCustomers(ctx context.Context) ([]repository.CustomerListItem, error) {
	return s.repo.GetCustomers(ctx)
}

// GetCustomer возвращает клиента вместе с его обязательствами.
func (s *Service) GetCustomer(ctx context.Context, id int64, status *model.ChargeStatus, order repository.ChargeOrder) (*model.Customer, []model.Charge, error) {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	charges, err := s.repo.GetChargesByCustomer(ctx, id, status, order)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	for i := range charges {
		charges[i].Status = charges[i].EffectiveStatus(now)
	}

	return customer, charges, nil
}

// UpdateCustomer обновляет данные клиента.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, name, cpf string) (*model.Customer, error) {
	if errs := validation.ValidateCustomer(name, cpf); !errs.Empty() {
		return nil, errs
	}
	return s.repo.UpdateCustomer(ctx, id, strings.TrimSpace(name), normalizeCPF(cpf))
}

// DeleteCustomer удаляет клиента без обязательств.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	return s.repo.DeleteCustomer(ctx, id)
}

// CreateCharge создаёт новое обязательство.
func (s *Service) CreateCharge(ctx context.Context, customerID int64, amount decimal.Decimal, dueDate time.Time) (*model.Charge, error) {
	if errs := validation.ValidateNewCharge(customerID, amount, dueDate, s.now()); !errs.Empty() {
		return nil, errs
	}
	return s.repo.CreateCharge(ctx, customerID, amount, dueDate)
}

// GetCharge возвращает обязательство с вычисленным отображаемым статусом.
func (s *Service) GetCharge(ctx context.Context, id int64) (*model.Charge, error) {
	charge, err := s.repo.GetChargeByID(ctx, id)
	if err != nil {
		return nil, err
	}

	charge.Status = charge.EffectiveStatus(s.now())
	return charge, nil
}

// ChargePage описывает страницу обязательств.
type ChargePage struct {
	Charges    []model.Charge
	Total      int64
	Page       int
	Limit      int
	TotalPages int64
}

// GetCharges возвращает страницу обязательств под фильтром.
func (s *Service) GetCharges(ctx context.Context, filter repository.ChargeFilter) (*ChargePage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 10
	}

	charges, total, err := s.repo.GetCharges(ctx, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range charges {
		charges[i].Status = charges[i].EffectiveStatus(now)
	}

	totalPages := total / int64(filter.Limit)
	if total%int64(filter.Limit) != 0 {
		totalPages++
	}

	return &ChargePage{
		Charges:    charges,
		Total:      total,
		Page:       filter.Page,
		Limit:      filter.Limit,
		TotalPages: totalPages,
	}, nil
}

// UpdateCharge изменяет сумму, срок оплаты или статус обязательства.
// Корректировка допустима только для неоплаченного PENDENTE-обязательства;
// статус PAGO выставляется исключительно через регистрацию платежа.
func (s *Service) UpdateCharge(ctx context.Context, id int64, upd repository.ChargeUpdate) (*model.Charge, error) {
	charge, err := s.repo.GetChargeByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if charge.Status != model.ChargeStatusPendente || charge.HasPayment {
		return nil, fmt.Errorf("%w: charge %d is %s", ErrChargeNotEditable, id, charge.Status)
	}

	if upd.Amount != nil {
		if errs := validation.ValidateChargeAmount(*upd.Amount); !errs.Empty() {
			return nil, errs
		}
	}
	if upd.DueDate != nil {
		if errs := validation.ValidateDueDate(*upd.DueDate, s.now()); !errs.Empty() {
			return nil, errs
		}
	}
	if upd.Status != nil {
		if *upd.Status == model.ChargeStatusPago || *upd.Status == model.ChargeStatusVencido ||
			!model.CanTransition(charge.Status, *upd.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, charge.Status, *upd.Status)
		}
	}

	return s.repo.UpdateCharge(ctx, id, upd)
}

// DeleteCharge удаляет обязательство.
func (s *Service) DeleteCharge(ctx context.Context, id int64) error {
	return s.repo.DeleteCharge(ctx, id)
}

// CalculatePaymentAmount возвращает сумму к оплате по обязательству с учётом пени.
func (s *Service) CalculatePaymentAmount(ctx context.Context, chargeID int64) (*interest.Calculation, error) {
	charge, err := s.repo.GetChargeByID(ctx, chargeID)
	if err != nil {
		if errors.Is(err, repository.ErrChargeNotFound) {
			return nil, settlement.ErrChargeNotFound
		}
		return nil, err
	}

	if charge.HasPayment {
		return nil, fmt.Errorf("%w: charge %d", settlement.ErrAlreadyPaid, chargeID)
	}

	calc := interest.Calculate(charge.Amount, charge.DueDate, s.now())
	return &calc, nil
}

// CreatePayment регистрирует платёж по обязательству. Решение принимает
// пакет settlement, фиксация выполняется одной транзакцией репозитория.
// Нарушение уникальности на записи трактуется как уже оплаченное
// обязательство: параллельная оплата успела раньше.
func (s *Service) CreatePayment(ctx context.Context, chargeID int64, amount decimal.Decimal, method string) (*model.Payment, error) {
	if errs := validation.ValidateNewPayment(chargeID, amount, method); !errs.Empty() {
		return nil, errs
	}

	charge, err := s.repo.GetChargeByID(ctx, chargeID)
	if err != nil {
		if errors.Is(err, repository.ErrChargeNotFound) {
			return nil, settlement.ErrChargeNotFound
		}
		return nil, err
	}

	existing, err := s.repo.GetPaymentByChargeID(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	decision, err := settlement.Authorize(charge, existing, amount, model.PaymentMethod(method), s.now())
	if err != nil {
		return nil, err
	}

	saved, err := s.repo.CommitSettlement(ctx, chargeID, decision.NewStatus, decision.Payment)
	if err != nil {
		if errors.Is(err, repository.ErrChargeAlreadyPaid) {
			return nil, fmt.Errorf("%w: charge %d", settlement.ErrAlreadyPaid, chargeID)
		}
		return nil, err
	}

	return saved, nil
}

// GetPayments возвращает все платежи.
func (s *Service) GetPayments(ctx context.Context) ([]repository.PaymentListItem, error) {
	return s.repo.GetPayments(ctx)
}

// GetPayment возвращает платёж по идентификатору.
func (s *Service) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	return s.repo.GetPaymentByID(ctx, id)
}

// DeletePayment удаляет платёж. Административная операция: обязательство
// возвращается в PENDENTE силами репозитория.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	return s.repo.DeletePayment(ctx, id)
}
