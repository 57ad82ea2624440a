package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// UpsertCounterparty inserts or updates by ID (ID==0 means insert) and
// returns the row's ID.
func (s *Store) UpsertCounterparty(ctx context.Context, c models.Counterparty) (int64, error) {
	if c.ID == 0 {
		const q = `
			INSERT INTO counterparties (kind, denomination, fiscal_id, tax_code, score)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`
		var id int64
		err := s.pool.QueryRow(ctx, q, int(c.Kind), c.Denomination, c.FiscalID, c.TaxCode, c.Score).Scan(&id)
		if err != nil {
			return 0, core.Internal("insert counterparty", err)
		}
		return id, nil
	}

	const q = `
		UPDATE counterparties
		SET kind = $2, denomination = $3, fiscal_id = $4, tax_code = $5, score = $6
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, c.ID, int(c.Kind), c.Denomination, c.FiscalID, c.TaxCode, c.Score)
	if err != nil {
		return 0, core.Internal("update counterparty", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, core.NotFound("counterparty %d not found", c.ID)
	}
	return c.ID, nil
}

// GetCounterparty fetches a single counterparty by ID.
func (s *Store) GetCounterparty(ctx context.Context, id int64) (models.Counterparty, error) {
	const q = `SELECT id, kind, denomination, fiscal_id, tax_code, score FROM counterparties WHERE id = $1`
	var c models.Counterparty
	var kind int
	err := s.pool.QueryRow(ctx, q, id).Scan(&c.ID, &kind, &c.Denomination, &c.FiscalID, &c.TaxCode, &c.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Counterparty{}, core.NotFound("counterparty %d not found", id)
	}
	if err != nil {
		return models.Counterparty{}, core.Internal("fetch counterparty", err)
	}
	c.Kind = models.CounterpartyKind(kind)
	return c, nil
}

// ListCounterparties returns every counterparty, used by the
// anagraphics cache warm-up at startup.
func (s *Store) ListCounterparties(ctx context.Context) ([]models.Counterparty, error) {
	const q = `SELECT id, kind, denomination, fiscal_id, tax_code, score FROM counterparties`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("list counterparties", err)
	}
	defer rows.Close()

	var out []models.Counterparty
	for rows.Next() {
		var c models.Counterparty
		var kind int
		if err := rows.Scan(&c.ID, &kind, &c.Denomination, &c.FiscalID, &c.TaxCode, &c.Score); err != nil {
			return nil, core.Internal("scan counterparty", err)
		}
		c.Kind = models.CounterpartyKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate counterparties", err)
	}
	return out, nil
}

// FindCounterpartyByFiscalID looks up an exact fiscal_id or tax_code
// match; the importer uses it to reuse a counterparty before creating one.
func (s *Store) FindCounterpartyByFiscalID(ctx context.Context, fiscalID string) (models.Counterparty, error) {
	const q = `SELECT id, kind, denomination, fiscal_id, tax_code, score FROM counterparties WHERE fiscal_id = $1 OR tax_code = $1 LIMIT 1`
	var c models.Counterparty
	var kind int
	err := s.pool.QueryRow(ctx, q, fiscalID).Scan(&c.ID, &kind, &c.Denomination, &c.FiscalID, &c.TaxCode, &c.Score)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Counterparty{}, core.NotFound("no counterparty with fiscal id %s", fiscalID)
	}
	if err != nil {
		return models.Counterparty{}, core.Internal("fetch counterparty by fiscal id", err)
	}
	c.Kind = models.CounterpartyKind(kind)
	return c, nil
}
