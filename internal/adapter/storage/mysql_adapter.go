package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/port"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid stored amount")
)

// maxAmountDigits is the precision of the DECIMAL(65,0) amount columns.
const maxAmountDigits = 65

// MySQL errors raised when a value does not fit its column.
const (
	errWarnDataOutOfRange = 1264
	errDataOutOfRange     = 1690
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		identity   VARCHAR(191) PRIMARY KEY,
		balance    DECIMAL(65,0) NOT NULL DEFAULT 0,
		version    BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id          CHAR(36) PRIMARY KEY,
		from_id     VARCHAR(191) NOT NULL,
		to_id       VARCHAR(191) NOT NULL,
		amount      DECIMAL(65,0) NOT NULL,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	`CREATE TABLE IF NOT EXISTS shop_events (
		id          CHAR(36) PRIMARY KEY,
		shop        VARCHAR(191) NOT NULL,
		kind        VARCHAR(32) NOT NULL,
		actor       VARCHAR(191) NOT NULL,
		sale_id     BIGINT UNSIGNED NOT NULL DEFAULT 0,
		offer_id    BIGINT UNSIGNED NOT NULL DEFAULT 0,
		amount      DECIMAL(65,0) NOT NULL DEFAULT 0,
		occurred_at DATETIME(6) NOT NULL,
		INDEX idx_shop_events_shop (shop, occurred_at)
	)`,
}

// MySQLAdapter is the wallet ledger and the shop event journal.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables the adapter needs.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Transfer debits from and credits to in one transaction. The debit is
// conditional on the balance covering the amount.
func (m *MySQLAdapter) Transfer(ctx context.Context, from, to domain.Identity, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	value, err := decimalValue(amount)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - CAST(? AS DECIMAL(65,0)), version = version + 1, updated_at = NOW(6)
		WHERE identity = ? AND balance >= CAST(? AS DECIMAL(65,0))`,
		value, string(from), value,
	)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrInsufficientFunds
	}

	if err := credit(ctx, tx, to, value); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, from_id, to_id, amount)
		VALUES (?, ?, ?, CAST(? AS DECIMAL(65,0)))`,
		uuid.NewString(), string(from), string(to), value,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}

	return tx.Commit()
}

// Deposit credits an account from outside the system.
func (m *MySQLAdapter) Deposit(ctx context.Context, account domain.Identity, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	value, err := decimalValue(amount)
	if err != nil {
		return err
	}
	return credit(ctx, m.db, account, value)
}

func (m *MySQLAdapter) Balance(ctx context.Context, account domain.Identity) (*uint256.Int, error) {
	var raw string
	err := m.db.QueryRowContext(ctx, `
		SELECT CAST(balance AS CHAR) FROM accounts WHERE identity = ?`, string(account),
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}

	balance, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return balance, nil
}

func (m *MySQLAdapter) AppendEvent(ctx context.Context, event domain.Event) error {
	amount := "0"
	if event.Amount != nil {
		amount = event.Amount.Dec()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO shop_events (id, shop, kind, actor, sale_id, offer_id, amount, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, CAST(? AS DECIMAL(65,0)), ?)
		ON DUPLICATE KEY UPDATE id = id`,
		event.ID, string(event.Shop), string(event.Kind), string(event.Actor),
		event.SaleID, event.OfferID, amount, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func credit(ctx context.Context, db execer, account domain.Identity, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (identity, balance, version) VALUES (?, CAST(? AS DECIMAL(65,0)), 0)
		ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance), version = version + 1, updated_at = NOW(6)`,
		string(account), value,
	)
	if err != nil {
		if isOutOfRange(err) {
			return fmt.Errorf("%w: balance of %s", port.ErrAmountOutOfRange, account)
		}
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

// decimalValue renders amount for the amount columns, rejecting values wider
// than their precision.
func decimalValue(amount *uint256.Int) (string, error) {
	value := amount.Dec()
	if len(value) > maxAmountDigits {
		return "", fmt.Errorf("%w: %d digits", port.ErrAmountOutOfRange, len(value))
	}
	return value, nil
}

func isOutOfRange(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == errWarnDataOutOfRange || mysqlErr.Number == errDataOutOfRange
}
