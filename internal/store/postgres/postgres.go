package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/sequence"
	"arcadepos/backend/internal/store"
	"arcadepos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) IncrementCounter(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequence_counters (key, value, expire_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = sequence_counters.value + 1
		RETURNING value
	`, key, expireAt).Scan(&value)
	if err != nil {
		return 0, err
	}
	if value == 1 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sequence_counters WHERE expire_at < now()`); err != nil {
			return 0, err
		}
	}
	return value, nil
}

func (s *Store) LatestSequence(ctx context.Context, kind sequence.Kind, day string) (int64, error) {
	var query string
	switch kind {
	case sequence.KindSession:
		query = `SELECT session_number FROM gaming_sessions WHERE session_number LIKE $1
			ORDER BY length(session_number) DESC, session_number DESC LIMIT 1`
	case sequence.KindInvoice:
		query = `SELECT invoice_number FROM sales WHERE invoice_number LIKE $1
			ORDER BY length(invoice_number) DESC, invoice_number DESC LIMIT 1`
	default:
		return 0, fmt.Errorf("unknown sequence kind %q", kind)
	}

	var number string
	err := s.db.QueryRowContext(ctx, query, day+"-%").Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	_, seq, err := sequence.Parse(number)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) Commit(ctx context.Context, change store.Change) error {
	if change.IsEmpty() {
		return nil
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if change.NewSale != nil {
		if err := insertSale(ctx, pgTx, *change.NewSale); err != nil {
			return mapWriteError(err)
		}
	}
	if change.UpdatedSale != nil {
		if err := updateSale(ctx, pgTx, *change.UpdatedSale); err != nil {
			return mapWriteError(err)
		}
	}
	// Finished sessions go first so a PC's active slot is free for a new one.
	for _, session := range change.UpdatedSessions {
		if err := updateSession(ctx, pgTx, session); err != nil {
			return mapWriteError(err)
		}
	}
	for _, session := range change.NewSessions {
		if err := insertSession(ctx, pgTx, session); err != nil {
			return mapWriteError(err)
		}
	}

	for _, t := range change.PCTransitions {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE pcs SET status = $3, updated_at = now()
			WHERE id = $1 AND status = $2
		`, t.PCID, t.From, t.To)
		if err != nil {
			return mapWriteError(err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return fmt.Errorf("pc %s is not %s: %w", t.PCID, t.From, store.ErrConflict)
		}
	}

	for _, adj := range change.StockDeltas {
		if adj.Delta == 0 {
			continue
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2
			WHERE id = $1 AND stock + $2 >= 0
		`, adj.ProductID, adj.Delta)
		if err != nil {
			return mapWriteError(err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			var exists bool
			if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, adj.ProductID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("product %s: %w", adj.ProductID, store.ErrNotFound)
			}
			return fmt.Errorf("product %s: %w", adj.ProductID, store.ErrInsufficientStock)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func insertSale(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	items, saleDiscount, err := encodeSaleJSON(sale)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, customer_id, items,
			subtotal_usd, subtotal_lbp, item_disc_usd, item_disc_lbp, sale_discount,
			totals_usd, totals_lbp, payment_method, payment_currency, paid_usd, paid_lbp,
			status, cashier_id, notes, paid_at, created_at, updated_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,1)
	`,
		sale.ID, sale.InvoiceNumber, nullIfEmpty(sale.Customer.ID()), items,
		sale.SubtotalBeforeDiscount.USD, sale.SubtotalBeforeDiscount.LBP,
		sale.TotalItemDiscounts.USD, sale.TotalItemDiscounts.LBP, saleDiscount,
		sale.Totals.USD, sale.Totals.LBP, nullIfEmpty(sale.PaymentMethod), nullIfEmpty(sale.PaymentCurrency),
		sale.AmountPaid.USD, sale.AmountPaid.LBP,
		sale.Status, sale.CashierID, nullIfEmpty(sale.Notes), nullTime(sale.PaidAt), sale.CreatedAt, sale.UpdatedAt,
	)
	return err
}

func updateSale(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	items, saleDiscount, err := encodeSaleJSON(sale)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE sales SET
			customer_id = $2, items = $3,
			subtotal_usd = $4, subtotal_lbp = $5, item_disc_usd = $6, item_disc_lbp = $7, sale_discount = $8,
			totals_usd = $9, totals_lbp = $10, payment_method = $11, payment_currency = $12,
			paid_usd = $13, paid_lbp = $14, status = $15, notes = $16, paid_at = $17,
			updated_at = $18, version = $19
		WHERE id = $1 AND version = $19 - 1
	`,
		sale.ID, nullIfEmpty(sale.Customer.ID()), items,
		sale.SubtotalBeforeDiscount.USD, sale.SubtotalBeforeDiscount.LBP,
		sale.TotalItemDiscounts.USD, sale.TotalItemDiscounts.LBP, saleDiscount,
		sale.Totals.USD, sale.Totals.LBP, nullIfEmpty(sale.PaymentMethod), nullIfEmpty(sale.PaymentCurrency),
		sale.AmountPaid.USD, sale.AmountPaid.LBP, sale.Status, nullIfEmpty(sale.Notes), nullTime(sale.PaidAt),
		sale.UpdatedAt, sale.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sale %s modified concurrently: %w", sale.InvoiceNumber, store.ErrConflict)
	}
	return nil
}

func insertSession(ctx context.Context, tx *sql.Tx, session domain.GamingSession) error {
	discount, err := encodeJSON(session.Discount)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO gaming_sessions (
			id, session_number, pc_id, customer_id, customer_name, start_time, end_time, duration,
			rate_usd, rate_lbp, discount, total_usd, total_lbp, final_usd, final_lbp,
			status, payment_status, sale_id, started_by, ended_by, notes, created_at, updated_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,1)
	`,
		session.ID, session.SessionNumber, session.PC.ID(), nullIfEmpty(session.Customer.ID()), nullIfEmpty(session.CustomerName),
		session.StartTime, nullTime(session.EndTime), session.Duration,
		session.HourlyRate.USD, session.HourlyRate.LBP, discount,
		session.TotalCost.USD, session.TotalCost.LBP, session.FinalAmount.USD, session.FinalAmount.LBP,
		session.Status, session.PaymentStatus, session.SaleID, session.StartedBy, nullIfEmpty(session.EndedBy),
		nullIfEmpty(session.Notes), session.CreatedAt, session.UpdatedAt,
	)
	return err
}

func updateSession(ctx context.Context, tx *sql.Tx, session domain.GamingSession) error {
	discount, err := encodeJSON(session.Discount)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE gaming_sessions SET
			end_time = $2, duration = $3, discount = $4,
			total_usd = $5, total_lbp = $6, final_usd = $7, final_lbp = $8,
			status = $9, payment_status = $10, ended_by = $11, notes = $12,
			updated_at = $13, version = $14
		WHERE id = $1 AND version = $14 - 1
	`,
		session.ID, nullTime(session.EndTime), session.Duration, discount,
		session.TotalCost.USD, session.TotalCost.LBP, session.FinalAmount.USD, session.FinalAmount.LBP,
		session.Status, session.PaymentStatus, nullIfEmpty(session.EndedBy), nullIfEmpty(session.Notes),
		session.UpdatedAt, session.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session %s modified concurrently: %w", session.SessionNumber, store.ErrConflict)
	}
	return nil
}

const sessionColumns = `
	id, session_number, pc_id, customer_id, customer_name, start_time, end_time, duration,
	rate_usd, rate_lbp, discount, total_usd, total_lbp, final_usd, final_lbp,
	status, payment_status, sale_id, started_by, ended_by, notes, created_at, updated_at, version
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.GamingSession, error) {
	var (
		session      domain.GamingSession
		pcID         string
		customerID   sql.NullString
		customerName sql.NullString
		endTime      sql.NullTime
		discount     []byte
		endedBy      sql.NullString
		notes        sql.NullString
	)
	err := row.Scan(
		&session.ID, &session.SessionNumber, &pcID, &customerID, &customerName, &session.StartTime, &endTime, &session.Duration,
		&session.HourlyRate.USD, &session.HourlyRate.LBP, &discount,
		&session.TotalCost.USD, &session.TotalCost.LBP, &session.FinalAmount.USD, &session.FinalAmount.LBP,
		&session.Status, &session.PaymentStatus, &session.SaleID, &session.StartedBy, &endedBy, &notes,
		&session.CreatedAt, &session.UpdatedAt, &session.Version,
	)
	if err != nil {
		return domain.GamingSession{}, err
	}
	session.PC = domain.RefTo[domain.PC](pcID)
	session.Customer = domain.RefTo[domain.Customer](customerID.String)
	session.CustomerName = customerName.String
	session.EndedBy = endedBy.String
	session.Notes = notes.String
	if endTime.Valid {
		at := endTime.Time
		session.EndTime = &at
	}
	if len(discount) > 0 {
		var applied domain.AppliedDiscount
		if err := json.Unmarshal(discount, &applied); err != nil {
			return domain.GamingSession{}, err
		}
		session.Discount = &applied
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.GamingSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM gaming_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetActiveSessionByPC(ctx context.Context, pcID string) (*domain.GamingSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM gaming_sessions WHERE pc_id = $1 AND status = 'active'`, pcID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter store.SessionFilter) ([]domain.GamingSession, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM gaming_sessions
		WHERE ($1::text = '' OR status = $1)
			AND ($2::text = '' OR pc_id = $2)
			AND ($3::text = '' OR sale_id = $3)
		ORDER BY start_time DESC, session_number DESC
		LIMIT $4
	`, filter.Status, filter.PCID, filter.SaleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.GamingSession, 0, 16)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

const saleColumns = `
	id, invoice_number, customer_id, items,
	subtotal_usd, subtotal_lbp, item_disc_usd, item_disc_lbp, sale_discount,
	totals_usd, totals_lbp, payment_method, payment_currency, paid_usd, paid_lbp,
	status, cashier_id, notes, paid_at, created_at, updated_at, version
`

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale            domain.Sale
		customerID      sql.NullString
		items           []byte
		saleDiscount    []byte
		paymentMethod   sql.NullString
		paymentCurrency sql.NullString
		notes           sql.NullString
		paidAt          sql.NullTime
	)
	err := row.Scan(
		&sale.ID, &sale.InvoiceNumber, &customerID, &items,
		&sale.SubtotalBeforeDiscount.USD, &sale.SubtotalBeforeDiscount.LBP,
		&sale.TotalItemDiscounts.USD, &sale.TotalItemDiscounts.LBP, &saleDiscount,
		&sale.Totals.USD, &sale.Totals.LBP, &paymentMethod, &paymentCurrency,
		&sale.AmountPaid.USD, &sale.AmountPaid.LBP,
		&sale.Status, &sale.CashierID, &notes, &paidAt, &sale.CreatedAt, &sale.UpdatedAt, &sale.Version,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Customer = domain.RefTo[domain.Customer](customerID.String)
	sale.PaymentMethod = paymentMethod.String
	sale.PaymentCurrency = paymentCurrency.String
	sale.Notes = notes.String
	if paidAt.Valid {
		at := paidAt.Time
		sale.PaidAt = &at
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return domain.Sale{}, fmt.Errorf("decode sale items: %w", err)
	}
	if len(saleDiscount) > 0 {
		var applied domain.AppliedDiscount
		if err := json.Unmarshal(saleDiscount, &applied); err != nil {
			return domain.Sale{}, err
		}
		sale.SaleDiscount = &applied
	}
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.getSaleBy(ctx, "id", id)
}

func (s *Store) GetSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.Sale, error) {
	return s.getSaleBy(ctx, "invoice_number", invoiceNumber)
}

func (s *Store) getSaleBy(ctx context.Context, column string, value string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+column+` = $1`, value)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

const pcColumns = `id, pc_number, name, status, hourly_rate_usd, hourly_rate_lbp, location, notes, is_active, created_at, updated_at`

func scanPC(row rowScanner) (domain.PC, error) {
	var (
		pc       domain.PC
		location sql.NullString
		notes    sql.NullString
	)
	err := row.Scan(&pc.ID, &pc.PCNumber, &pc.Name, &pc.Status, &pc.HourlyRate.USD, &pc.HourlyRate.LBP,
		&location, &notes, &pc.IsActive, &pc.CreatedAt, &pc.UpdatedAt)
	if err != nil {
		return domain.PC{}, err
	}
	pc.Location = location.String
	pc.Notes = notes.String
	return pc, nil
}

func (s *Store) CreatePC(ctx context.Context, pc domain.PC) (*domain.PC, error) {
	if pc.ID == "" {
		pc.ID = xid.New("pc")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pcs (id, pc_number, name, status, hourly_rate_usd, hourly_rate_lbp, location, notes, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, pc.ID, pc.PCNumber, pc.Name, pc.Status, pc.HourlyRate.USD, pc.HourlyRate.LBP,
		nullIfEmpty(pc.Location), nullIfEmpty(pc.Notes), pc.IsActive, pc.CreatedAt, pc.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := pc
	return &created, nil
}

func (s *Store) GetPC(ctx context.Context, id string) (*domain.PC, error) {
	pc, err := scanPC(s.db.QueryRowContext(ctx, `SELECT `+pcColumns+` FROM pcs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &pc, nil
}

// UpdatePC refuses to put a PC into maintenance while it has an active session.
func (s *Store) UpdatePC(ctx context.Context, pc domain.PC, status *store.PCTransition) (*domain.PC, error) {
	var from, to string
	if status != nil {
		from, to = status.From, status.To
	}
	updated, err := scanPC(s.db.QueryRowContext(ctx, `
		UPDATE pcs
		SET name = $2, hourly_rate_usd = $3, hourly_rate_lbp = $4,
			location = $5, notes = $6, is_active = $7, updated_at = $8,
			status = CASE WHEN $9::text = '' THEN status ELSE $10::text END
		WHERE id = $1
			AND ($9::text = '' OR status = $9::text)
			AND ($9::text = '' OR $10::text <> 'maintenance' OR NOT EXISTS (
				SELECT 1 FROM gaming_sessions WHERE pc_id = $1 AND status = 'active'
			))
		RETURNING `+pcColumns,
		pc.ID, pc.Name, pc.HourlyRate.USD, pc.HourlyRate.LBP,
		nullIfEmpty(pc.Location), nullIfEmpty(pc.Notes), pc.IsActive, pc.UpdatedAt, from, to))
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapWriteError(err)
	}

	current, err := s.GetPC(ctx, pc.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, fmt.Errorf("pc %s is %s, expected %s: %w", current.PCNumber, current.Status, from, store.ErrConflict)
	}
	return nil, fmt.Errorf("%w: pc %s has an active session", domain.ErrInvalidState, current.PCNumber)
}

func (s *Store) ListPCs(ctx context.Context) ([]domain.PC, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pcColumns+` FROM pcs ORDER BY pc_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pcs := make([]domain.PC, 0, 32)
	for rows.Next() {
		pc, err := scanPC(rows)
		if err != nil {
			return nil, err
		}
		pcs = append(pcs, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pcs, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, total_purchases, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.Phone, nullIfEmpty(customer.Email), customer.TotalPurchases, customer.IsActive, customer.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var (
		customer domain.Customer
		email    sql.NullString
		lastAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, total_purchases, last_purchase_date, is_active, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &email, &customer.TotalPurchases, &lastAt, &customer.IsActive, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.Email = email.String
	if lastAt.Valid {
		at := lastAt.Time
		customer.LastPurchaseDate = &at
	}
	return &customer, nil
}

func (s *Store) RecordPurchase(ctx context.Context, customerID string, amountUSD decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases = total_purchases + $2, last_purchase_date = $3
		WHERE id = $1
	`, customerID, amountUSD, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, created_at) VALUES ($1,$2,$3)
	`, category.ID, category.Name, category.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := category
	return &created, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var category domain.Category
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM categories WHERE id = $1`, id).
		Scan(&category.ID, &category.Name, &category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

const productColumns = `id, sku, name, category_id, price_usd, price_lbp, stock, active, created_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Pricing.USD, &p.Pricing.LBP, &p.Stock, &p.Active, &p.CreatedAt)
	return p, err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.SKU, product.Name, product.CategoryID, product.Pricing.USD, product.Pricing.LBP,
		product.Stock, product.Active, product.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category_id, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

const discountColumns = `id, name, description, type, value, target, target_id, is_active, start_date, end_date, created_by, created_at`

func scanDiscount(row rowScanner) (domain.Discount, error) {
	var (
		d           domain.Discount
		description sql.NullString
		targetID    sql.NullString
		start       sql.NullTime
		end         sql.NullTime
	)
	err := row.Scan(&d.ID, &d.Name, &description, &d.Type, &d.Value, &d.Target, &targetID, &d.IsActive, &start, &end, &d.CreatedBy, &d.CreatedAt)
	if err != nil {
		return domain.Discount{}, err
	}
	d.Description = description.String
	d.TargetID = targetID.String
	if start.Valid {
		at := start.Time
		d.StartDate = &at
	}
	if end.Valid {
		at := end.Time
		d.EndDate = &at
	}
	return d, nil
}

func (s *Store) CreateDiscount(ctx context.Context, d domain.Discount) (*domain.Discount, error) {
	if d.ID == "" {
		d.ID = xid.New("disc")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discounts (`+discountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, d.ID, d.Name, nullIfEmpty(d.Description), d.Type, d.Value, d.Target, nullIfEmpty(d.TargetID), d.IsActive,
		nullTime(d.StartDate), nullTime(d.EndDate), d.CreatedBy, d.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := d
	return &created, nil
}

func (s *Store) GetDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	d, err := scanDiscount(s.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDiscounts(ctx context.Context, target string) ([]domain.Discount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+discountColumns+`
		FROM discounts
		WHERE ($1::text = '' OR target = $1)
		ORDER BY value DESC, name
	`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0, 16)
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return discounts, nil
}

func (s *Store) GetExchangeRate(ctx context.Context) (*domain.ExchangeRate, error) {
	var (
		rate  domain.ExchangeRate
		notes sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rate, previous_rate, updated_by, effective_from, notes
		FROM exchange_rates
		ORDER BY effective_from DESC
		LIMIT 1
	`).Scan(&rate.ID, &rate.Rate, &rate.PreviousRate, &rate.UpdatedBy, &rate.EffectiveFrom, &notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rate.Notes = notes.String
	return &rate, nil
}

func (s *Store) SaveExchangeRate(ctx context.Context, rate domain.ExchangeRate) error {
	if rate.ID == "" {
		rate.ID = xid.New("rate")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (id, rate, previous_rate, updated_by, effective_from, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rate.ID, rate.Rate, rate.PreviousRate, rate.UpdatedBy, rate.EffectiveFrom, nullIfEmpty(rate.Notes))
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeSaleJSON(sale domain.Sale) ([]byte, any, error) {
	items := sale.Items
	if items == nil {
		items = []domain.SaleItem{}
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		return nil, nil, err
	}
	saleDiscount, err := encodeJSON(sale.SaleDiscount)
	if err != nil {
		return nil, nil, err
	}
	return rawItems, saleDiscount, nil
}

func encodeJSON(applied *domain.AppliedDiscount) (any, error) {
	if applied == nil {
		return nil, nil
	}
	raw, err := json.Marshal(applied)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// mapWriteError turns constraint and serialization failures into store errors.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "gaming_sessions_session_number_key", "sales_invoice_number_key":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, domain.ErrSequenceCollision)
		}
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrConflict)
	case "40001", "40P01":
		return fmt.Errorf("concurrent update: %w", store.ErrConflict)
	case "23514":
		if pgErr.ConstraintName == "products_stock_check" {
			return store.ErrInsufficientStock
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
