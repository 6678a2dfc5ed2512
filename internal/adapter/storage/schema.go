package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const ordersTableSQL = `
CREATE TABLE IF NOT EXISTS orders (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    customer_email VARCHAR(320) NOT NULL DEFAULT '',
    items TEXT NOT NULL,
    total_price %[1]s NOT NULL,
    subtotal %[1]s NULL,
    shipping %[1]s NULL,
    tax %[1]s NULL,
    status VARCHAR(16) NOT NULL,
    payment_id VARCHAR(64) NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL%[2]s
)`

const paymentsTableSQL = `
CREATE TABLE IF NOT EXISTS payments (
    id VARCHAR(64) PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL,
    amount %[1]s NOT NULL,
    currency VARCHAR(8) NOT NULL,
    method VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at BIGINT NOT NULL%[2]s
)`

// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes live in the table DDL.
const (
	mysqlOrderIndexes = `,
    INDEX idx_orders_user_id (user_id),
    INDEX idx_orders_customer_email (customer_email),
    INDEX idx_orders_status_updated (status, updated_at)`
	mysqlPaymentIndexes = `,
    INDEX idx_payments_order_id (order_id)`
)

var portableIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_email ON orders(customer_email)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_updated ON orders(status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id)`,
}

func schemaStatements(dialect Dialect) []string {
	switch dialect {
	case DialectMySQL:
		return []string{
			fmt.Sprintf(ordersTableSQL, "DOUBLE", mysqlOrderIndexes),
			fmt.Sprintf(paymentsTableSQL, "DOUBLE", mysqlPaymentIndexes),
		}
	case DialectPostgres:
		return append([]string{
			fmt.Sprintf(ordersTableSQL, "DOUBLE PRECISION", ""),
			fmt.Sprintf(paymentsTableSQL, "DOUBLE PRECISION", ""),
		}, portableIndexes...)
	default:
		return append([]string{
			fmt.Sprintf(ordersTableSQL, "REAL", ""),
			fmt.Sprintf(paymentsTableSQL, "REAL", ""),
		}, portableIndexes...)
	}
}

// InitSchema creates the orders and payments tables. Statements run one at a
// time because the MySQL driver rejects multi-statement strings by default.
func InitSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range schemaStatements(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}
