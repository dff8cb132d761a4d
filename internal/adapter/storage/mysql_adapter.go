package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/port"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213

	baseRetryBackoff = 20 * time.Millisecond
)

var (
	//go:embed schema.sql
	schemaSQL string
	//go:embed seed.sql
	seedSQL string
)

type MySQLAdapter struct {
	db         *sql.DB
	maxRetries int
}

type MySQLOption func(*MySQLAdapter)

// WithMaxRetries sets how many times a transaction aborted by a deadlock or a
// lock wait timeout is run again.
func WithMaxRetries(n int) MySQLOption {
	return func(m *MySQLAdapter) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func NewMySQLAdapter(db *sql.DB, opts ...MySQLOption) *MySQLAdapter {
	m := &MySQLAdapter{db: db, maxRetries: 3}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureSchema creates the tables the shop needs when they do not exist yet.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if err := m.exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SeedDemoData inserts the demo catalog and customer 1. Existing rows are kept.
func (m *MySQLAdapter) SeedDemoData(ctx context.Context) error {
	if err := m.exec(ctx, seedSQL); err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}
	return nil
}

// exec runs a script of ';'-terminated statements. Statements must not embed ';'.
func (m *MySQLAdapter) exec(ctx context.Context, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) InTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := m.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= m.maxRetries {
			return err
		}
		if waitErr := backoff(ctx, attempt); waitErr != nil {
			return fmt.Errorf("retry tx: %w", errors.Join(err, waitErr))
		}
	}
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	// Row locks taken by LockProduct make READ COMMITTED sufficient: a second
	// transaction blocks on the product row and then reads the committed stock.
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, price, stock, active
		FROM products
		WHERE id = ? AND active = 1
		FOR UPDATE`, productID,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order domain.Order) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (customer_id, total, created_at)
		VALUES (?, ?, ?)`,
		order.CustomerID, order.Total, order.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("order id: %w", err)
	}
	return id, nil
}

func (t *mysqlTx) InsertOrderItem(ctx context.Context, item domain.OrderItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES (?, ?, ?, ?)`,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
	)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (t *mysqlTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if rows == 0 {
		return port.ErrStockConflict
	}
	return nil
}

const catalogQuery = `
	SELECT p.id, p.name, COALESCE(p.description, ''), p.price, p.stock, p.active,
	       COALESCE(p.image_url, ''), COALESCE(c.slug, ''), COALESCE(c.name, ''), p.created_at
	FROM products p
	LEFT JOIN categories c ON c.id = p.category_id
	WHERE p.active = 1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Active,
		&p.ImageURL, &p.CategorySlug, &p.CategoryName, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, catalogQuery+` AND p.id = ?`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, categorySlug string) ([]domain.Product, error) {
	query := catalogQuery
	var args []any
	if categorySlug != "" {
		query += ` AND c.slug = ?`
		args = append(args, categorySlug)
	}
	query += ` ORDER BY p.id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return out, nil
}

func (m *MySQLAdapter) AddNewsletterSubscriber(ctx context.Context, email string) error {
	_, err := m.db.ExecContext(ctx, `INSERT INTO newsletter (email) VALUES (?)`, email)
	if hasErrorNumber(err, mysqlErrDuplicateEntry) {
		return port.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func hasErrorNumber(err error, numbers ...uint16) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	for _, n := range numbers {
		if myErr.Number == n {
			return true
		}
	}
	return false
}

func isRetryable(err error) bool {
	return hasErrorNumber(err, mysqlErrDeadlock, mysqlErrLockWaitTimeout)
}

// backoff waits an exponentially growing, jittered delay before the next attempt.
func backoff(ctx context.Context, attempt int) error {
	exp := baseRetryBackoff * time.Duration(1<<attempt)
	delay := exp + rand.N(exp/2+1)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
