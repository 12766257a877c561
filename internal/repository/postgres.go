// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/rodrigues/cobranca-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrCustomerExists возвращается при попытке создать клиента с уже занятым CPF.
var (
	ErrCustomerExists = errors.New("customer already exists")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerHasCharges возвращается при попытке удалить клиента с обязательствами.
	ErrCustomerHasCharges = errors.New("customer has charges")
	// ErrChargeNotFound возвращается, если обязательство не найдено.
	ErrChargeNotFound = errors.New("charge not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrChargeAlreadyPaid возвращается при нарушении уникальности платежа по обязательству.
	ErrChargeAlreadyPaid = errors.New("charge already paid")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateCustomer создаёт нового клиента.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, name, cpf string) (*model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (name, cpf) VALUES ($1, $2)
		 RETURNING id, name, cpf, created_at, updated_at`,
		name, cpf,
	).Scan(&c.ID, &c.Name, &c.CPF, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: cpf %s", ErrCustomerExists, cpf)
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &c, nil
}

// GetCustomerByID возвращает клиента по идентификатору.
func (r *PostgresRepository) GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, cpf, created_at, updated_at FROM customers WHERE id = $1`,
		id,
	)

	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.CPF, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return &c, nil
}

// CustomerListItem описывает клиента вместе с числом его обязательств.
type CustomerListItem struct {
	Customer    model.Customer
	ChargeCount int64
}

// GetCustomers возвращает список клиентов с числом обязательств, в порядке создания.
func (r *PostgresRepository) GetCustomers(ctx context.Context) ([]CustomerListItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.name, c.cpf, c.created_at, c.updated_at, COUNT(ch.id)
		 FROM customers c
		 LEFT JOIN charges ch ON ch.customer_id = c.id
		 GROUP BY c.id
		 ORDER BY c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var res []CustomerListItem
	for rows.Next() {
		var item CustomerListItem
		err := rows.Scan(&item.Customer.ID, &item.Customer.Name, &item.Customer.CPF,
			&item.Customer.CreatedAt, &item.Customer.UpdatedAt, &item.ChargeCount)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		res = append(res, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateCustomer обновляет имя и CPF клиента.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, id int64, name, cpf string) (*model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx,
		`UPDATE customers SET name = $2, cpf = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, cpf, created_at, updated_at`,
		id, name, cpf,
	).Scan(&c.ID, &c.Name, &c.CPF, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: cpf %s", ErrCustomerExists, cpf)
		}
		return nil, fmt.Errorf("update customer: %w", err)
	}
	return &c, nil
}

// DeleteCustomer удаляет клиента. Клиент с обязательствами не удаляется.
func (r *PostgresRepository) DeleteCustomer(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: customer %d", ErrCustomerHasCharges, id)
		}
		return fmt.Errorf("delete customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// CreateCharge создаёт новое обязательство со статусом PENDENTE.
func (r *PostgresRepository) CreateCharge(ctx context.Context, customerID int64, amount decimal.Decimal, dueDate time.Time) (*model.Charge, error) {
	var c model.Charge
	err := r.pool.QueryRow(ctx,
		`INSERT INTO charges (customer_id, amount, due_date, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, customer_id, amount, due_date, status, created_at, updated_at`,
		customerID, amount, dueDate, string(model.ChargeStatusPendente),
	).Scan(&c.ID, &c.CustomerID, &c.Amount, &c.DueDate, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("%w: customer %d", ErrCustomerNotFound, customerID)
		}
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return &c, nil
}

const chargeColumns = `c.id, c.customer_id, c.amount, c.due_date, c.status, c.created_at, c.updated_at,
	 (p.id IS NOT NULL) AS has_payment`

func scanCharge(row pgx.Row) (*model.Charge, error) {
	var c model.Charge
	err := row.Scan(&c.ID, &c.CustomerID, &c.Amount, &c.DueDate, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.HasPayment)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChargeByID возвращает обязательство вместе с признаком наличия платежа.
func (r *PostgresRepository) GetChargeByID(ctx context.Context, id int64) (*model.Charge, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+chargeColumns+`
		 FROM charges c
		 LEFT JOIN payments p ON p.charge_id = c.id
		 WHERE c.id = $1`,
		id,
	)

	c, err := scanCharge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("get charge: %w", err)
	}

	return c, nil
}

// ChargeFilter описывает параметры выборки обязательств.
type ChargeFilter struct {
	Status *model.ChargeStatus
	Page   int
	Limit  int
}

// GetCharges возвращает страницу обязательств, отсортированных по сроку оплаты,
// и общее число записей под фильтром.
func (r *PostgresRepository) GetCharges(ctx context.Context, filter ChargeFilter) ([]model.Charge, int64, error) {
	where := ``
	args := []any{}
	if filter.Status != nil {
		where = `WHERE c.status = $1`
		args = append(args, string(*filter.Status))
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM charges c ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count charges: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	query := `SELECT ` + chargeColumns + `
		 FROM charges c
		 LEFT JOIN payments p ON p.charge_id = c.id ` + where +
		fmt.Sprintf(` ORDER BY c.due_date LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select charges: %w", err)
	}
	defer rows.Close()

	var res []model.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan charge: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// ChargeOrder описывает сортировку обязательств клиента.
type ChargeOrder struct {
	Field string // due_date, amount или status
	Desc  bool
}

// GetChargesByCustomer возвращает обязательства клиента с опциональным фильтром по статусу.
func (r *PostgresRepository) GetChargesByCustomer(ctx context.Context, customerID int64, status *model.ChargeStatus, order ChargeOrder) ([]model.Charge, error) {
	orderField := "c.due_date"
	switch order.Field {
	case "amount":
		orderField = "c.amount"
	case "status":
		orderField = "c.status"
	}
	direction := "ASC"
	if order.Desc {
		direction = "DESC"
	}

	args := []any{customerID}
	where := `WHERE c.customer_id = $1`
	if status != nil {
		where += ` AND c.status = $2`
		args = append(args, string(*status))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+chargeColumns+`
		 FROM charges c
		 LEFT JOIN payments p ON p.charge_id = c.id `+where+
			` ORDER BY `+orderField+` `+direction,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select customer charges: %w", err)
	}
	defer rows.Close()

	var res []model.Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan charge: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ChargeUpdate описывает частичное обновление обязательства.
type ChargeUpdate struct {
	Amount  *decimal.Decimal
	DueDate *time.Time
	Status  *model.ChargeStatus
}

// UpdateCharge применяет частичное обновление и возвращает обновлённое обязательство.
func (r *PostgresRepository) UpdateCharge(ctx context.Context, id int64, upd ChargeUpdate) (*model.Charge, error) {
	set := []string{"updated_at = now()"}
	args := []any{id}

	if upd.Amount != nil {
		args = append(args, *upd.Amount)
		set = append(set, fmt.Sprintf("amount = $%d", len(args)))
	}
	if upd.DueDate != nil {
		args = append(args, *upd.DueDate)
		set = append(set, fmt.Sprintf("due_date = $%d", len(args)))
	}
	if upd.Status != nil {
		args = append(args, string(*upd.Status))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}

	var c model.Charge
	err := r.pool.QueryRow(ctx,
		`UPDATE charges SET `+strings.Join(set, ", ")+`
		 WHERE id = $1
		 RETURNING id, customer_id, amount, due_date, status, created_at, updated_at`,
		args...,
	).Scan(&c.ID, &c.CustomerID, &c.Amount, &c.DueDate, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, fmt.Errorf("update charge: %w", err)
	}

	return &c, nil
}

// DeleteCharge удаляет обязательство вместе с платежом, если он есть.
func (r *PostgresRepository) DeleteCharge(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM charges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete charge: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrChargeNotFound
	}
	return nil
}

// GetPaymentByChargeID возвращает платёж по обязательству или nil, если платежа нет.
func (r *PostgresRepository) GetPaymentByChargeID(ctx context.Context, chargeID int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, charge_id, amount, method, paid_at FROM payments WHERE charge_id = $1`,
		chargeID,
	)

	var p model.Payment
	err := row.Scan(&p.ID, &p.ChargeID, &p.Amount, &p.Method, &p.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment by charge: %w", err)
	}

	return &p, nil
}

// GetPaymentByID возвращает платёж по идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, charge_id, amount, method, paid_at FROM payments WHERE id = $1`,
		id,
	)

	var p model.Payment
	err := row.Scan(&p.ID, &p.ChargeID, &p.Amount, &p.Method, &p.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return &p, nil
}

// PaymentListItem описывает платёж вместе с данными обязательства и клиента.
type PaymentListItem struct {
	Payment      model.Payment
	ChargeAmount decimal.Decimal
	CustomerID   int64
	CustomerName string
}

// GetPayments возвращает все платежи, новые первыми.
func (r *PostgresRepository) GetPayments(ctx context.Context) ([]PaymentListItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.charge_id, p.amount, p.method, p.paid_at,
		        c.amount, cu.id, cu.name
		 FROM payments p
		 JOIN charges c ON c.id = p.charge_id
		 JOIN customers cu ON cu.id = c.customer_id
		 ORDER BY p.paid_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []PaymentListItem
	for rows.Next() {
		var item PaymentListItem
		err := rows.Scan(&item.Payment.ID, &item.Payment.ChargeID, &item.Payment.Amount,
			&item.Payment.Method, &item.Payment.PaidAt,
			&item.ChargeAmount, &item.CustomerID, &item.CustomerName)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CommitSettlement фиксирует оплату: обновляет статус обязательства и создаёт
// платёж в одной транзакции. Уникальный индекс по charge_id — авторитетная
// защита от двойной оплаты при конкурентных запросах.
func (r *PostgresRepository) CommitSettlement(ctx context.Context, chargeID int64, newStatus model.ChargeStatus, payment model.Payment) (*model.Payment, error) {
	var saved model.Payment

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE charges SET status = $2, updated_at = now() WHERE id = $1`,
			chargeID, string(newStatus),
		)
		if err != nil {
			return fmt.Errorf("update charge status: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrChargeNotFound
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO payments (charge_id, amount, method, paid_at)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, charge_id, amount, method, paid_at`,
			payment.ChargeID, payment.Amount, string(payment.Method), payment.PaidAt,
		).Scan(&saved.ID, &saved.ChargeID, &saved.Amount, &saved.Method, &saved.PaidAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: charge %d", ErrChargeAlreadyPaid, chargeID)
			}
			return fmt.Errorf("insert payment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &saved, nil
}

// DeletePayment удаляет платёж (административная операция) и возвращает
// обязательство в статус PENDENTE в той же транзакции.
func (r *PostgresRepository) DeletePayment(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var chargeID int64
	err = tx.QueryRow(ctx,
		`DELETE FROM payments WHERE id = $1 RETURNING charge_id`,
		id,
	).Scan(&chargeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("delete payment: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE charges SET status = $2, updated_at = now() WHERE id = $1`,
		chargeID, string(model.ChargeStatusPendente),
	)
	if err != nil {
		return fmt.Errorf("revert charge status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
