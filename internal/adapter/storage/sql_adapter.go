package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

// Dialect names a supported SQL backend. The value is the database/sql driver name.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectMySQL, DialectPostgres, DialectSQLite:
		return Dialect(s), nil
	case "postgres":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported sql driver %q", s)
}

// OpenDB opens and pings a database for the dialect.
func OpenDB(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if dialect == DialectSQLite {
		// every new connection to :memory: would be a fresh database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

const orderColumns = `id, user_id, customer_email, items, total_price, subtotal, shipping, tax, status, payment_id, created_at, updated_at`

const paymentColumns = `id, order_id, amount, currency, method, status, created_at`

// SQLAdapter stores orders and payments in a relational database.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}

func (s *SQLAdapter) Insert(ctx context.Context, order domain.Order) (string, error) {
	if order.ID == "" {
		return "", fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}

	items, err := marshalItems(order.Items)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.UserID, order.CustomerEmail, items, order.TotalPrice,
		nullAmount(order.Subtotal), nullAmount(order.Shipping), nullAmount(order.Tax),
		string(order.Status), order.PaymentID,
		order.CreatedAt.UnixMicro(), order.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		return "", storeErr("insert order", err)
	}

	return order.ID, nil
}

func (s *SQLAdapter) Get(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, storeErr("query order", err)
	}
	return order, nil
}

func (s *SQLAdapter) GetAll(ctx context.Context) (map[string]domain.Order, error) {
	orders, err := s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders`)
	if err != nil {
		return nil, err
	}

	all := make(map[string]domain.Order, len(orders))
	for _, o := range orders {
		all[o.ID] = o
	}
	return all, nil
}

func (s *SQLAdapter) ListByUser(ctx context.Context, identity string) ([]domain.Order, error) {
	if identity == "" {
		return nil, nil
	}
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = ? OR customer_email = ?
		ORDER BY created_at DESC, id DESC`,
		identity, identity,
	)
}

func (s *SQLAdapter) ListPending(ctx context.Context, updatedBefore time.Time, after domain.PendingCursor, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	where := `status = ? AND updated_at < ?`
	args := []any{string(domain.OrderStatusPending), updatedBefore.UnixMicro()}
	if !after.IsZero() {
		at := after.UpdatedAt.UnixMicro()
		where += ` AND (updated_at > ? OR (updated_at = ? AND id > ?))`
		args = append(args, at, at, after.ID)
	}
	args = append(args, limit)

	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE `+where+`
		ORDER BY updated_at ASC, id ASC
		LIMIT ?`,
		args...,
	)
}

func (s *SQLAdapter) Update(ctx context.Context, id string, patch domain.OrderPatch) error {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	sets := []string{"updated_at = ?"}
	args := []any{updatedAt.UnixMicro()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.PaymentID != nil {
		sets = append(sets, "payment_id = ?")
		args = append(args, *patch.PaymentID)
	}

	query := `UPDATE orders SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if patch.ExpectStatus != "" {
		query += ` AND status = ?`
		args = append(args, string(patch.ExpectStatus))
	}

	result, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return storeErr("update order", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("update order", err)
	}
	if rows > 0 {
		return nil
	}

	// zero rows: the order is missing or the precondition no longer holds
	var current string
	err = s.db.QueryRowContext(ctx, s.q(`SELECT status FROM orders WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return storeErr("query order status", err)
	}
	if patch.ExpectStatus != "" && domain.OrderStatus(current) != patch.ExpectStatus {
		return fmt.Errorf("order %s is %s, expected %s: %w", id, current, patch.ExpectStatus, domain.ErrConflict)
	}
	return nil
}

func (s *SQLAdapter) CreatePayment(ctx context.Context, payment domain.Payment) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		payment.ID, payment.OrderID, payment.Amount, payment.Currency, payment.Method,
		string(payment.Status), payment.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return storeErr("insert payment", err)
	}
	return nil
}

func (s *SQLAdapter) DeletePayment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM payments WHERE id = ?`), id)
	if err != nil {
		return storeErr("delete payment", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLAdapter) ListPaymentsByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = ?
		ORDER BY created_at ASC, id ASC`), orderID)
	if err != nil {
		return nil, storeErr("query payments", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		var status string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Method, &status, &createdAt); err != nil {
			return nil, storeErr("scan payment", err)
		}
		p.Status = domain.PaymentStatus(status)
		p.CreatedAt = time.UnixMicro(createdAt).UTC()
		payments = append(payments, p)
	}

	if err = rows.Err(); err != nil {
		return nil, storeErr("rows iteration failed", err)
	}
	return payments, nil
}

func (s *SQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, storeErr("query orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storeErr("scan order", err)
		}
		orders = append(orders, o)
	}

	if err = rows.Err(); err != nil {
		return nil, storeErr("rows iteration failed", err)
	}
	return orders, nil
}

// q rewrites ? placeholders for drivers that use numbered parameters.
func (s *SQLAdapter) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (domain.Order, error) {
	var o domain.Order
	var items, status string
	var subtotal, shipping, tax sql.NullFloat64
	var createdAt, updatedAt int64

	err := sc.Scan(&o.ID, &o.UserID, &o.CustomerEmail, &items, &o.TotalPrice,
		&subtotal, &shipping, &tax, &status, &o.PaymentID, &createdAt, &updatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode items: %w", err)
	}
	if o.Items == nil {
		o.Items = []json.RawMessage{}
	}
	o.Subtotal = amountPtr(subtotal)
	o.Shipping = amountPtr(shipping)
	o.Tax = amountPtr(tax)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMicro(createdAt).UTC()
	o.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return o, nil
}

func marshalItems(items []json.RawMessage) (string, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("%w: encode items: %v", domain.ErrValidation, err)
	}
	return string(b), nil
}

func nullAmount(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func amountPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.Float64
	return &x
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
