package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/will87p/betpool/internal/domain"
)

const marketCols = `id, creator, description, resolution_time, oracle,
	resolved, winning_outcome, total_yes, total_no, created_at`

// LedgerStore implements domain.LedgerStore on a pgx connection pool.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Begin opens a database transaction for one ledger operation.
func (s *LedgerStore) Begin(ctx context.Context) (domain.LedgerTx, error) {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &ledgerTx{tx: pgtx}, nil
}

// scanMarket scans a single market row.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var winning bool
	err := row.Scan(
		&m.ID, &m.Creator, &m.Description, &m.ResolutionTime, &m.Oracle,
		&m.Resolved, &winning, &m.TotalYes, &m.TotalNo, &m.CreatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.WinningOutcome = domain.Side(winning)
	return m, nil
}

// GetMarket retrieves a market by id.
func (s *LedgerStore) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets newest first with pagination and optional
// creation-time filtering.
func (s *LedgerStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	var conds []string
	args := []any{}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// MarketCount returns the number of markets ever created (the counter value,
// unaffected by deletions).
func (s *LedgerStore) MarketCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT last_id FROM market_counter WHERE id = 1").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: market count: %w", err)
	}
	return n, nil
}

// GetStake returns an account's stake on one side of a market; zero when no
// row exists (never placed, or already claimed).
func (s *LedgerStore) GetStake(ctx context.Context, marketID int64, account string, side domain.Side) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT amount FROM stakes WHERE market_id = $1 AND account = $2 AND side = $3`,
		marketID, account, bool(side),
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get stake %d/%s: %w", marketID, account, err)
	}
	return amount, nil
}

// GetBalance returns an account's spendable balance; zero for unknown
// accounts.
func (s *LedgerStore) GetBalance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE address = $1`, account,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get balance %s: %w", account, err)
	}
	return balance, nil
}

// ListEvents returns committed events with seq greater than afterSeq, oldest
// first.
func (s *LedgerStore) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.Event, error) {
	query := `SELECT seq, id, type, market_id, actor, detail, created_at
		FROM ledger_events WHERE seq > $1 ORDER BY seq ASC`
	args := []any{afterSeq}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var typ string
		if err := rows.Scan(&ev.Seq, &ev.ID, &typ, &ev.MarketID, &ev.Actor, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
