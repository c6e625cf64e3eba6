package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/will87p/betpool/internal/domain"
)

// ledgerTx implements domain.LedgerTx over a pgx transaction. Row-level locks
// taken by GetMarket (FOR UPDATE) serialize concurrent operations touching
// the same market across instances.
type ledgerTx struct {
	tx        pgx.Tx
	committed bool
}

func (t *ledgerTx) NextMarketID(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`UPDATE market_counter SET last_id = last_id + 1 WHERE id = 1 RETURNING last_id`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: next market id: %w", err)
	}
	return id, nil
}

func (t *ledgerTx) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: tx get market %d: %w", id, err)
	}
	return m, nil
}

func (t *ledgerTx) InsertMarket(ctx context.Context, m domain.Market) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO markets (id, creator, description, resolution_time, oracle,
			resolved, winning_outcome, total_yes, total_no, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.Creator, m.Description, m.ResolutionTime, m.Oracle,
		m.Resolved, bool(m.WinningOutcome), m.TotalYes, m.TotalNo, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, err)
	}
	return nil
}

func (t *ledgerTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE markets SET resolved = $2, winning_outcome = $3,
			total_yes = $4, total_no = $5
		WHERE id = $1`,
		m.ID, m.Resolved, bool(m.WinningOutcome), m.TotalYes, m.TotalNo,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) DeleteMarket(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) GetStake(ctx context.Context, marketID int64, account string, side domain.Side) (int64, error) {
	var amount int64
	err := t.tx.QueryRow(ctx,
		`SELECT amount FROM stakes
		 WHERE market_id = $1 AND account = $2 AND side = $3 FOR UPDATE`,
		marketID, account, bool(side),
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: tx get stake %d/%s: %w", marketID, account, err)
	}
	return amount, nil
}

func (t *ledgerTx) AddStake(ctx context.Context, marketID int64, account string, side domain.Side, amount int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stakes (market_id, account, side, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, account, side)
		DO UPDATE SET amount = stakes.amount + EXCLUDED.amount, updated_at = now()`,
		marketID, account, bool(side), amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: add stake %d/%s: %w", marketID, account, err)
	}
	return nil
}

func (t *ledgerTx) ZeroStake(ctx context.Context, marketID int64, account string, side domain.Side) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM stakes WHERE market_id = $1 AND account = $2 AND side = $3`,
		marketID, account, bool(side),
	)
	if err != nil {
		return fmt.Errorf("postgres: zero stake %d/%s: %w", marketID, account, err)
	}
	return nil
}

func (t *ledgerTx) Debit(ctx context.Context, account string, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2, updated_at = now()
		 WHERE address = $1 AND balance >= $2`,
		account, amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransferFailed
	}
	return nil
}

func (t *ledgerTx) Credit(ctx context.Context, account string, amount int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address)
		DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()`,
		account, amount,
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

func (t *ledgerTx) AppendEvent(ctx context.Context, ev domain.Event) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger_events (id, type, market_id, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		ev.ID, string(ev.Type), ev.MarketID, ev.Actor, ev.Detail, ev.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: append event: %w", err)
	}
	return seq, nil
}

func (t *ledgerTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	t.committed = true
	return nil
}

// Rollback is a no-op after Commit, so callers can defer it.
func (t *ledgerTx) Rollback(ctx context.Context) error {
	if t.committed {
		return nil
	}
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

var _ domain.LedgerTx = (*ledgerTx)(nil)
