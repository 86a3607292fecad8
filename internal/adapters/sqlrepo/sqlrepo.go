// Package sqlrepo implements the engine's repository ports on SQLite,
// grounded on AlejandroRuiz99-polybot's internal/adapters/storage/sqlite.go:
// a pure-Go driver (modernc.org/sqlite, no CGo), CREATE TABLE IF NOT EXISTS
// schema applied on open, one index per query path, and explicit
// column-by-column Scan rather than an ORM. Monetary/quantity fields are
// stored as TEXT (decimal.Decimal.String()) rather than REAL, since SQLite's
// floating-point storage class would silently reintroduce the binary
// rounding error shopspring/decimal exists to avoid.
package sqlrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/pkg/domainerr"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id                       TEXT PRIMARY KEY,
	tenant_id                TEXT NOT NULL,
	portfolio_id             TEXT NOT NULL,
	asset_symbol             TEXT NOT NULL,
	qty                      TEXT NOT NULL,
	cash                     TEXT NOT NULL,
	anchor_price             TEXT NOT NULL,
	anchor_set               INTEGER NOT NULL,
	avg_cost                 TEXT NOT NULL,
	total_commission_paid    TEXT NOT NULL,
	total_dividends_received TEXT NOT NULL,
	status                   TEXT NOT NULL,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions(portfolio_id);

CREATE TABLE IF NOT EXISTS portfolios (
	id                   TEXT PRIMARY KEY,
	tenant_id            TEXT NOT NULL,
	name                 TEXT NOT NULL,
	trading_state        TEXT NOT NULL,
	trading_hours_policy TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_portfolios_tenant ON portfolios(tenant_id);

CREATE TABLE IF NOT EXISTS orders (
	id                       TEXT PRIMARY KEY,
	tenant_id                TEXT NOT NULL,
	portfolio_id             TEXT NOT NULL,
	position_id              TEXT NOT NULL,
	side                     TEXT NOT NULL,
	qty                      TEXT NOT NULL,
	status                   TEXT NOT NULL,
	idempotency_key          TEXT NOT NULL,
	request_signature        TEXT NOT NULL,
	commission_rate_snapshot TEXT NOT NULL,
	broker_order_id          TEXT NOT NULL,
	broker_status            TEXT NOT NULL,
	filled_qty               TEXT NOT NULL,
	avg_fill_price           TEXT NOT NULL,
	has_fill_price           INTEGER NOT NULL,
	total_commission         TEXT NOT NULL,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_position ON orders(position_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idem ON orders(position_id, idempotency_key);

CREATE TABLE IF NOT EXISTS trades (
	id                        TEXT PRIMARY KEY,
	tenant_id                 TEXT NOT NULL,
	portfolio_id              TEXT NOT NULL,
	position_id               TEXT NOT NULL,
	order_id                  TEXT NOT NULL,
	side                      TEXT NOT NULL,
	qty                       TEXT NOT NULL,
	price                     TEXT NOT NULL,
	commission                TEXT NOT NULL,
	commission_rate_effective TEXT NOT NULL,
	executed_at               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_order    ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);

CREATE TABLE IF NOT EXISTS idempotency (
	position_id     TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	signature       TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	PRIMARY KEY (position_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS timeline (
	id           TEXT PRIMARY KEY,
	position_id  TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	action       TEXT NOT NULL,
	order_id     TEXT NOT NULL,
	payload_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timeline_position_ts ON timeline(position_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS configs (
	position_id  TEXT PRIMARY KEY,
	trigger_json TEXT,
	guardrail_json TEXT,
	order_policy_json TEXT
);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	condition   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	status      TEXT NOT NULL,
	title       TEXT NOT NULL,
	detail      TEXT NOT NULL,
	metadata_json TEXT,
	created_at  TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_alerts_condition_status ON alerts(condition, status);
`

// DB wraps the shared *sql.DB handle and constructs per-entity repos bound
// to it. SQLite is single-writer; callers share one DB across all repos,
// the same way the teacher shares one *sql.DB across its storage methods.
type DB struct {
	conn *sql.DB
}

// Open creates or migrates the SQLite database at path and applies schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlrepo: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

func decStr(d decimal.Decimal) string { return d.String() }

func parseDec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Positions is a SQLite-backed PositionsRepo.
type Positions struct{ db *DB }

// NewPositions binds a Positions repo to db.
func NewPositions(db *DB) *Positions { return &Positions{db: db} }

func (r *Positions) Get(ctx context.Context, id string) (*domain.Position, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, portfolio_id, asset_symbol, qty, cash, anchor_price,
		       anchor_set, avg_cost, total_commission_paid, total_dividends_received,
		       status, created_at, updated_at
		FROM positions WHERE id = ?`, id)

	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.New(domainerr.PositionNotFound, "position "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: get position %s: %w", id, err)
	}
	return p, nil
}

func (r *Positions) Save(ctx context.Context, p *domain.Position) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO positions (id, tenant_id, portfolio_id, asset_symbol, qty, cash, anchor_price,
			anchor_set, avg_cost, total_commission_paid, total_dividends_received, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			qty = excluded.qty, cash = excluded.cash, anchor_price = excluded.anchor_price,
			anchor_set = excluded.anchor_set, avg_cost = excluded.avg_cost,
			total_commission_paid = excluded.total_commission_paid,
			total_dividends_received = excluded.total_dividends_received,
			status = excluded.status, updated_at = excluded.updated_at`,
		p.ID, p.TenantID, p.PortfolioID, p.AssetSymbol, decStr(p.Qty), decStr(p.Cash), decStr(p.AnchorPrice),
		boolToInt(p.AnchorSet), decStr(p.AvgCost), decStr(p.TotalCommissionPaid), decStr(p.TotalDividendsReceived),
		string(p.Status), fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlrepo: save position %s: %w", p.ID, err)
	}
	return nil
}

func (r *Positions) ListByPortfolio(ctx context.Context, portfolioID string) ([]*domain.Position, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, tenant_id, portfolio_id, asset_symbol, qty, cash, anchor_price,
		       anchor_set, avg_cost, total_commission_paid, total_dividends_received,
		       status, created_at, updated_at
		FROM positions WHERE portfolio_id = ?`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: list positions for portfolio %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlrepo: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var qty, cash, anchor, avgCost, commission, dividends string
	var anchorSet int
	var created, updated string
	err := row.Scan(&p.ID, &p.TenantID, &p.PortfolioID, &p.AssetSymbol, &qty, &cash, &anchor,
		&anchorSet, &avgCost, &commission, &dividends, &p.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.Qty = parseDec(qty)
	p.Cash = parseDec(cash)
	p.AnchorPrice = parseDec(anchor)
	p.AnchorSet = anchorSet != 0
	p.AvgCost = parseDec(avgCost)
	p.TotalCommissionPaid = parseDec(commission)
	p.TotalDividendsReceived = parseDec(dividends)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// Portfolios is a SQLite-backed PortfoliosRepo.
type Portfolios struct{ db *DB }

// NewPortfolios binds a Portfolios repo to db.
func NewPortfolios(db *DB) *Portfolios { return &Portfolios{db: db} }

func (r *Portfolios) Get(ctx context.Context, id string) (*domain.Portfolio, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, trading_state, trading_hours_policy FROM portfolios WHERE id = ?`, id)
	pf, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.New(domainerr.PortfolioNotFound, "portfolio "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: get portfolio %s: %w", id, err)
	}
	return pf, nil
}

func (r *Portfolios) Save(ctx context.Context, pf *domain.Portfolio) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO portfolios (id, tenant_id, name, trading_state, trading_hours_policy)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, trading_state = excluded.trading_state,
			trading_hours_policy = excluded.trading_hours_policy`,
		pf.ID, pf.TenantID, pf.Name, string(pf.TradingState), string(pf.TradingHoursPolicy),
	)
	if err != nil {
		return fmt.Errorf("sqlrepo: save portfolio %s: %w", pf.ID, err)
	}
	return nil
}

func (r *Portfolios) List(ctx context.Context, tenantID string) ([]*domain.Portfolio, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, tenant_id, name, trading_state, trading_hours_policy FROM portfolios WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: list portfolios for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []*domain.Portfolio
	for rows.Next() {
		pf, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlrepo: scan portfolio: %w", err)
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

func scanPortfolio(row rowScanner) (*domain.Portfolio, error) {
	var pf domain.Portfolio
	err := row.Scan(&pf.ID, &pf.TenantID, &pf.Name, &pf.TradingState, &pf.TradingHoursPolicy)
	if err != nil {
		return nil, err
	}
	return &pf, nil
}

// Orders is a SQLite-backed OrdersRepo.
type Orders struct{ db *DB }

// NewOrders binds an Orders repo to db.
func NewOrders(db *DB) *Orders { return &Orders{db: db} }

func (r *Orders) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.conn.QueryRowContext(ctx, orderSelect+` WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.New(domainerr.OrderNotFound, "order "+id+" not found")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: get order %s: %w", id, err)
	}
	return o, nil
}

func (r *Orders) GetByIdempotencyKey(ctx context.Context, positionID, idempotencyKey string) (*domain.Order, error) {
	row := r.db.conn.QueryRowContext(ctx, orderSelect+` WHERE position_id = ? AND idempotency_key = ?`, positionID, idempotencyKey)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.New(domainerr.OrderNotFound, "no order for idempotency key "+idempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: get order by idempotency key: %w", err)
	}
	return o, nil
}

func (r *Orders) Save(ctx context.Context, o *domain.Order) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO orders (id, tenant_id, portfolio_id, position_id, side, qty, status,
			idempotency_key, request_signature, commission_rate_snapshot, broker_order_id,
			broker_status, filled_qty, avg_fill_price, has_fill_price, total_commission,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, broker_order_id = excluded.broker_order_id,
			broker_status = excluded.broker_status, filled_qty = excluded.filled_qty,
			avg_fill_price = excluded.avg_fill_price, has_fill_price = excluded.has_fill_price,
			total_commission = excluded.total_commission, updated_at = excluded.updated_at`,
		o.ID, o.TenantID, o.PortfolioID, o.PositionID, string(o.Side), decStr(o.Qty), string(o.Status),
		o.IdempotencyKey, o.RequestSignature, decStr(o.CommissionRateSnapshot), o.BrokerOrderID,
		o.BrokerStatus, decStr(o.FilledQty), decStr(o.AvgFillPrice), boolToInt(o.HasFillPrice),
		decStr(o.TotalCommission), fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlrepo: save order %s: %w", o.ID, err)
	}
	return nil
}

func (r *Orders) CountForPositionOnDate(ctx context.Context, positionID string, date time.Time) (int, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	var count int
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE position_id = ? AND created_at >= ? AND created_at < ?`,
		positionID, fmtTime(start), fmtTime(end)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlrepo: count orders for position %s: %w", positionID, err)
	}
	return count, nil
}

func (r *Orders) ListByPosition(ctx context.Context, positionID string) ([]*domain.Order, error) {
	rows, err := r.db.conn.QueryContext(ctx, orderSelect+` WHERE position_id = ? ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: list orders for position %s: %w", positionID, err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlrepo: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const orderSelect = `
	SELECT id, tenant_id, portfolio_id, position_id, side, qty, status, idempotency_key,
	       request_signature, commission_rate_snapshot, broker_order_id, broker_status,
	       filled_qty, avg_fill_price, has_fill_price, total_commission, created_at, updated_at
	FROM orders`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var qty, commissionRate, filledQty, avgFillPrice, totalCommission string
	var hasFillPrice int
	var created, updated string
	err := row.Scan(&o.ID, &o.TenantID, &o.PortfolioID, &o.PositionID, &o.Side, &qty, &o.Status,
		&o.IdempotencyKey, &o.RequestSignature, &commissionRate, &o.BrokerOrderID, &o.BrokerStatus,
		&filledQty, &avgFillPrice, &hasFillPrice, &totalCommission, &created, &updated)
	if err != nil {
		return nil, err
	}
	o.Qty = parseDec(qty)
	o.CommissionRateSnapshot = parseDec(commissionRate)
	o.FilledQty = parseDec(filledQty)
	o.AvgFillPrice = parseDec(avgFillPrice)
	o.HasFillPrice = hasFillPrice != 0
	o.TotalCommission = parseDec(totalCommission)
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return &o, nil
}

// Trades is a SQLite-backed TradesRepo.
type Trades struct{ db *DB }

// NewTrades binds a Trades repo to db.
func NewTrades(db *DB) *Trades { return &Trades{db: db} }

const tradeSelect = `
	SELECT id, tenant_id, portfolio_id, position_id, order_id, side, qty, price, commission,
	       commission_rate_effective, executed_at
	FROM trades`

func (r *Trades) Save(ctx context.Context, t *domain.Trade) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO trades (id, tenant_id, portfolio_id, position_id, order_id, side, qty, price,
			commission, commission_rate_effective, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.PortfolioID, t.PositionID, t.OrderID, string(t.Side), decStr(t.Qty),
		decStr(t.Price), decStr(t.Commission), decStr(t.CommissionRateEffective), fmtTime(t.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlrepo: save trade %s: %w", t.ID, err)
	}
	return nil
}

func (r *Trades) ListByOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	rows, err := r.db.conn.QueryContext(ctx, tradeSelect+` WHERE order_id = ? ORDER BY executed_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: list trades for order %s: %w", orderID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (r *Trades) ListByPosition(ctx context.Context, positionID string) ([]*domain.Trade, error) {
	rows, err := r.db.conn.QueryContext(ctx, tradeSelect+` WHERE position_id = ? ORDER BY executed_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: list trades for position %s: %w", positionID, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var qty, price, commission, rate, executedAt string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.PortfolioID, &t.PositionID, &t.OrderID, &t.Side,
			&qty, &price, &commission, &rate, &executedAt); err != nil {
			return nil, fmt.Errorf("sqlrepo: scan trade: %w", err)
		}
		t.Qty = parseDec(qty)
		t.Price = parseDec(price)
		t.Commission = parseDec(commission)
		t.CommissionRateEffective = parseDec(rate)
		t.ExecutedAt = parseTime(executedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Idempotency is a SQLite-backed IdempotencyRepo.
type Idempotency struct{ db *DB }

// NewIdempotency binds an Idempotency repo to db.
func NewIdempotency(db *DB) *Idempotency { return &Idempotency{db: db} }

func (r *Idempotency) Reserve(ctx context.Context, rec ports.IdempotencyRecord) (ports.IdempotencyRecord, bool, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return ports.IdempotencyRecord{}, false, fmt.Errorf("sqlrepo: reserve begin tx: %w", err)
	}
	defer tx.Rollback()

	var sig, orderID string
	err = tx.QueryRowContext(ctx, `SELECT signature, order_id FROM idempotency WHERE position_id = ? AND idempotency_key = ?`,
		rec.PositionID, rec.IdempotencyKey).Scan(&sig, &orderID)
	if err == nil {
		return ports.IdempotencyRecord{PositionID: rec.PositionID, IdempotencyKey: rec.IdempotencyKey, Signature: sig, OrderID: orderID}, true, nil
	}
	if err != sql.ErrNoRows {
		return ports.IdempotencyRecord{}, false, fmt.Errorf("sqlrepo: reserve lookup: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO idempotency (position_id, idempotency_key, signature, order_id) VALUES (?, ?, ?, ?)`,
		rec.PositionID, rec.IdempotencyKey, rec.Signature, rec.OrderID); err != nil {
		return ports.IdempotencyRecord{}, false, fmt.Errorf("sqlrepo: reserve insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ports.IdempotencyRecord{}, false, fmt.Errorf("sqlrepo: reserve commit: %w", err)
	}
	return rec, false, nil
}

func (r *Idempotency) AttachOrderID(ctx context.Context, positionID, idempotencyKey, orderID string) error {
	_, err := r.db.conn.ExecContext(ctx, `UPDATE idempotency SET order_id = ? WHERE position_id = ? AND idempotency_key = ?`,
		orderID, positionID, idempotencyKey)
	if err != nil {
		return fmt.Errorf("sqlrepo: attach order id: %w", err)
	}
	return nil
}

// Release deletes a reservation that never reached AttachOrderID, so a
// request that failed a later guardrail check can retry under the same key.
func (r *Idempotency) Release(ctx context.Context, positionID, idempotencyKey string) error {
	_, err := r.db.conn.ExecContext(ctx, `DELETE FROM idempotency WHERE position_id = ? AND idempotency_key = ? AND order_id = ''`,
		positionID, idempotencyKey)
	if err != nil {
		return fmt.Errorf("sqlrepo: release idempotency key: %w", err)
	}
	return nil
}

// Timeline is a SQLite-backed TimelineRepo. Filter/sort columns (position_id,
// timestamp, action) are stored as columns, with (position_id, timestamp)
// indexed; the full record is stored as a JSON
// payload since EvaluationRecord is wide and the column list would mostly
// duplicate the struct definition for no query benefit.
type Timeline struct{ db *DB }

// NewTimeline binds a Timeline repo to db.
func NewTimeline(db *DB) *Timeline { return &Timeline{db: db} }

func (r *Timeline) Save(ctx context.Context, rec *domain.EvaluationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlrepo: marshal evaluation record %s: %w", rec.ID, err)
	}
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO timeline (id, position_id, timestamp, action, order_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PositionID, fmtTime(rec.Timestamp), string(rec.Action), rec.OrderID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("sqlrepo: save evaluation record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *Timeline) Query(ctx context.Context, q ports.TimelineQuery) ([]*domain.EvaluationRecord, int, error) {
	var total int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM timeline WHERE position_id = ? OR ? = ''`, q.PositionID, q.PositionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlrepo: count timeline: %w", err)
	}

	query := `SELECT payload_json FROM timeline WHERE (position_id = ? OR ? = '')`
	args := []interface{}{q.PositionID, q.PositionID}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, fmtTime(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, fmtTime(q.To))
	}
	query += ` ORDER BY timestamp DESC`

	limit := q.Limit
	if limit <= 0 || limit > 2000 {
		limit = 2000
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlrepo: query timeline: %w", err)
	}
	defer rows.Close()

	var out []*domain.EvaluationRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, fmt.Errorf("sqlrepo: scan timeline row: %w", err)
		}
		var rec domain.EvaluationRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, 0, fmt.Errorf("sqlrepo: unmarshal timeline row: %w", err)
		}
		out = append(out, &rec)
	}
	return out, total, rows.Err()
}

// Configs is a SQLite-backed ConfigRepo. Each config type is stored as a
// JSON blob; a missing row (or missing column) falls back to the package
// default, mirroring memrepo.Configs' default-fallback behavior.
type Configs struct{ db *DB }

// NewConfigs binds a Configs repo to db.
func NewConfigs(db *DB) *Configs { return &Configs{db: db} }

func (c *Configs) upsert(ctx context.Context, positionID, column string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlrepo: marshal config for %s: %w", positionID, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO configs (position_id, %s) VALUES (?, ?)
		ON CONFLICT(position_id) DO UPDATE SET %s = excluded.%s`, column, column, column)
	if _, err := c.db.conn.ExecContext(ctx, query, positionID, string(payload)); err != nil {
		return fmt.Errorf("sqlrepo: save config for %s: %w", positionID, err)
	}
	return nil
}

func (c *Configs) SetTrigger(ctx context.Context, positionID string, cfg types.TriggerConfig) error {
	return c.upsert(ctx, positionID, "trigger_json", cfg)
}

func (c *Configs) SetGuardrail(ctx context.Context, positionID string, cfg types.GuardrailConfig) error {
	return c.upsert(ctx, positionID, "guardrail_json", cfg)
}

func (c *Configs) SetOrderPolicy(ctx context.Context, positionID string, cfg types.OrderPolicyConfig) error {
	return c.upsert(ctx, positionID, "order_policy_json", cfg)
}

func (c *Configs) TriggerConfig(ctx context.Context, positionID string) (types.TriggerConfig, error) {
	var payload sql.NullString
	err := c.db.conn.QueryRowContext(ctx, `SELECT trigger_json FROM configs WHERE position_id = ?`, positionID).Scan(&payload)
	if err == sql.ErrNoRows || !payload.Valid {
		return types.DefaultTriggerConfig(), nil
	}
	if err != nil {
		return types.TriggerConfig{}, fmt.Errorf("sqlrepo: trigger config for %s: %w", positionID, err)
	}
	var cfg types.TriggerConfig
	if err := json.Unmarshal([]byte(payload.String), &cfg); err != nil {
		return types.TriggerConfig{}, fmt.Errorf("sqlrepo: unmarshal trigger config for %s: %w", positionID, err)
	}
	return cfg, nil
}

func (c *Configs) GuardrailConfig(ctx context.Context, positionID string) (types.GuardrailConfig, error) {
	var payload sql.NullString
	err := c.db.conn.QueryRowContext(ctx, `SELECT guardrail_json FROM configs WHERE position_id = ?`, positionID).Scan(&payload)
	if err == sql.ErrNoRows || !payload.Valid {
		return types.DefaultGuardrailConfig(), nil
	}
	if err != nil {
		return types.GuardrailConfig{}, fmt.Errorf("sqlrepo: guardrail config for %s: %w", positionID, err)
	}
	var cfg types.GuardrailConfig
	if err := json.Unmarshal([]byte(payload.String), &cfg); err != nil {
		return types.GuardrailConfig{}, fmt.Errorf("sqlrepo: unmarshal guardrail config for %s: %w", positionID, err)
	}
	return cfg, nil
}

func (c *Configs) OrderPolicyConfig(ctx context.Context, positionID string) (types.OrderPolicyConfig, error) {
	var payload sql.NullString
	err := c.db.conn.QueryRowContext(ctx, `SELECT order_policy_json FROM configs WHERE position_id = ?`, positionID).Scan(&payload)
	if err == sql.ErrNoRows || !payload.Valid {
		return types.DefaultOrderPolicyConfig(), nil
	}
	if err != nil {
		return types.OrderPolicyConfig{}, fmt.Errorf("sqlrepo: order policy config for %s: %w", positionID, err)
	}
	var cfg types.OrderPolicyConfig
	if err := json.Unmarshal([]byte(payload.String), &cfg); err != nil {
		return types.OrderPolicyConfig{}, fmt.Errorf("sqlrepo: unmarshal order policy config for %s: %w", positionID, err)
	}
	return cfg, nil
}

// Alerts is a SQLite-backed AlertRepo.
type Alerts struct{ db *DB }

// NewAlerts binds an Alerts repo to db.
func NewAlerts(db *DB) *Alerts { return &Alerts{db: db} }

func (r *Alerts) FindActiveByCondition(ctx context.Context, condition domain.AlertCondition) (*domain.Alert, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT id, condition, severity, status, title, detail, metadata_json, created_at, resolved_at
		FROM alerts WHERE condition = ? AND status = ? LIMIT 1`, string(condition), string(domain.AlertActive))
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: find active alert for %s: %w", condition, err)
	}
	return a, nil
}

func (r *Alerts) Save(ctx context.Context, a *domain.Alert) error {
	var metadata []byte
	if a.Metadata != nil {
		var err error
		metadata, err = json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("sqlrepo: marshal alert metadata %s: %w", a.ID, err)
		}
	}
	var resolvedAt interface{}
	if !a.ResolvedAt.IsZero() {
		resolvedAt = fmtTime(a.ResolvedAt)
	}
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO alerts (id, condition, severity, status, title, detail, metadata_json, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, resolved_at = excluded.resolved_at`,
		a.ID, string(a.Condition), string(a.Severity), string(a.Status), a.Title, a.Detail,
		nullableString(metadata), fmtTime(a.CreatedAt), resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlrepo: save alert %s: %w", a.ID, err)
	}
	return nil
}

func (r *Alerts) ListActive(ctx context.Context) ([]*domain.Alert, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, condition, severity, status, title, detail, metadata_json, created_at, resolved_at
		FROM alerts WHERE status = ? ORDER BY created_at ASC`, string(domain.AlertActive))
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: list active alerts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlrepo: scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var metadata, resolvedAt sql.NullString
	var created string
	if err := row.Scan(&a.ID, &a.Condition, &a.Severity, &a.Status, &a.Title, &a.Detail, &metadata, &created, &resolvedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	if resolvedAt.Valid {
		a.ResolvedAt = parseTime(resolvedAt.String)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

var (
	_ ports.PositionsRepo   = (*Positions)(nil)
	_ ports.PortfoliosRepo  = (*Portfolios)(nil)
	_ ports.OrdersRepo      = (*Orders)(nil)
	_ ports.TradesRepo      = (*Trades)(nil)
	_ ports.IdempotencyRepo = (*Idempotency)(nil)
	_ ports.TimelineRepo    = (*Timeline)(nil)
	_ ports.ConfigRepo      = (*Configs)(nil)
	_ ports.AlertRepo       = (*Alerts)(nil)
)
