/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Card and crypto rows live in separate tables (donations / crypto_donations,
 * withdrawal_requests / crypto_withdrawals) and are presented as one model.
 *
 * @notes
 * - Every writer of a campaign's aggregates locks the campaign row first, so
 *   increments and recomputes are serialized per campaign.
 * - Numeric columns are read as text and parsed into decimals to avoid float loss.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const campaignColumns = `id, user_id, title, description, category, image_url, target_amount::text,
	raised_amount::text, donors_count, is_urgent, is_verified, expires_at, created_at`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var target, raised string
	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Description, &c.Category, &c.ImageURL,
		&target, &raised, &c.DonorsCount, &c.IsUrgent, &c.IsVerified, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if c.TargetAmount, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("parse target_amount: %w", err)
	}
	if c.RaisedAmount, err = decimal.NewFromString(raised); err != nil {
		return nil, fmt.Errorf("parse raised_amount: %w", err)
	}
	return &c, nil
}

// CreateCampaign inserts a campaign with zero aggregates and bumps the owner's campaign count.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, ownerID uuid.UUID, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO campaigns (user_id, title, description, category, image_url, target_amount, is_urgent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + campaignColumns
	campaign, err := scanCampaign(tx.QueryRow(ctx, query,
		ownerID, req.Title, req.Description, req.Category, req.ImageURL, req.TargetAmount, req.IsUrgent, req.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert campaign: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT increment_user_campaign_count($1)`, ownerID); err != nil {
		return nil, fmt.Errorf("failed to increment campaign count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit campaign: %w", err)
	}
	return campaign, nil
}

func (r *PostgresRepository) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := scanCampaign(r.db.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var p domain.Profile
	var total string
	err := r.db.QueryRow(ctx, `SELECT id, full_name, total_donated::text, campaigns_created FROM profiles WHERE id = $1`, userID).
		Scan(&p.ID, &p.FullName, &total, &p.CampaignsCreated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	if p.TotalDonated, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_donated: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM admin_users WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

const donationUnion = `
	SELECT id, campaign_id, user_id, 'fiat' AS rail, amount::text AS amount, 'USD' AS token_type,
		amount::text AS fiat_equivalent, checkout_session_id AS proof, NULL::text AS wallet_address,
		message, is_anonymous, created_at
	FROM donations
	UNION ALL
	SELECT id, campaign_id, user_id, 'crypto', amount::text, token_type,
		usd_value_at_time::text, tx_hash, wallet_address,
		message, is_anonymous, created_at
	FROM crypto_donations`

func scanDonation(row pgx.Row) (*domain.DonationRecord, error) {
	var d domain.DonationRecord
	var rail, amount, fiat string
	err := row.Scan(&d.ID, &d.CampaignID, &d.ContributorID, &rail, &amount, &d.Asset,
		&fiat, &d.SettlementProof, &d.WalletAddress, &d.Message, &d.Anonymous, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Rail = domain.Rail(rail)
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse donation amount: %w", err)
	}
	if d.FiatEquivalent, err = decimal.NewFromString(fiat); err != nil {
		return nil, fmt.Errorf("parse donation fiat value: %w", err)
	}
	return &d, nil
}

// RecordDonation inserts the donation and reconciles the campaign aggregates atomically.
func (r *PostgresRepository) RecordDonation(ctx context.Context, params domain.RecordDonationParams) (*domain.RecordDonationResult, error) {
	params.SettlementProof = domain.NormalizeProof(params.Rail, params.SettlementProof)
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the campaign row; concurrent donations to the same campaign queue here.
	var campaignID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM campaigns WHERE id = $1 FOR UPDATE`, params.CampaignID).Scan(&campaignID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to lock campaign: %w", err)
	}

	var row pgx.Row
	credit := params.FiatEquivalent
	switch params.Rail {
	case domain.RailFiat:
		credit = params.Amount
		row = tx.QueryRow(ctx, `
			INSERT INTO donations (campaign_id, user_id, amount, checkout_session_id, message, is_anonymous)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (checkout_session_id) DO NOTHING
			RETURNING id, created_at`,
			params.CampaignID, params.ContributorID, params.Amount, params.SettlementProof, params.Message, params.Anonymous)
	case domain.RailCrypto:
		wallet := ""
		if params.WalletAddress != nil {
			wallet = *params.WalletAddress
		}
		row = tx.QueryRow(ctx, `
			INSERT INTO crypto_donations (campaign_id, user_id, amount, token_type, tx_hash, wallet_address, usd_value_at_time, message, is_anonymous)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tx_hash) DO NOTHING
			RETURNING id, created_at`,
			params.CampaignID, params.ContributorID, params.Amount, params.Asset, params.SettlementProof,
			wallet, params.FiatEquivalent, params.Message, params.Anonymous)
	default:
		return nil, fmt.Errorf("unknown rail %q", params.Rail)
	}

	record := recordFromParams(params)
	if err := row.Scan(&record.ID, &record.CreatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to insert donation: %w", err)
		}
		// ON CONFLICT DO NOTHING returned no row: the proof was already credited.
		_ = tx.Rollback(ctx)
		existing, err := r.FindDonationByProof(ctx, params.Rail, params.SettlementProof)
		if err != nil {
			return nil, fmt.Errorf("failed to load duplicate donation: %w", err)
		}
		return &domain.RecordDonationResult{Donation: existing, Duplicate: true}, nil
	}

	if _, err := tx.Exec(ctx, `SELECT update_campaign_stats($1, $2)`, params.CampaignID, credit); err != nil {
		return nil, fmt.Errorf("failed to update campaign stats: %w", err)
	}
	if params.ContributorID != nil {
		if _, err := tx.Exec(ctx, `SELECT update_user_donation_stats($1, $2)`, *params.ContributorID, credit); err != nil {
			return nil, fmt.Errorf("failed to update donor stats: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE campaigns SET donors_count = (`+distinctContributorsSQL+`) WHERE id = $1`, params.CampaignID); err != nil {
		return nil, fmt.Errorf("failed to recompute donors count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit donation: %w", err)
	}
	return &domain.RecordDonationResult{Donation: record}, nil
}

// distinctContributorsSQL counts campaign $1's contributors; keep in sync with contributorKey.
const distinctContributorsSQL = `
	SELECT COUNT(DISTINCT contributor) FROM (
		SELECT COALESCE('user:' || user_id::text, 'proof:' || checkout_session_id) AS contributor
		FROM donations WHERE campaign_id = $1
		UNION ALL
		SELECT COALESCE('user:' || user_id::text,
			'wallet:' || NULLIF(CASE WHEN wallet_address LIKE '0x%' THEN lower(wallet_address) ELSE wallet_address END, ''),
			'proof:' || tx_hash)
		FROM crypto_donations WHERE campaign_id = $1
	) contributors`

func (r *PostgresRepository) FindDonationByProof(ctx context.Context, rail domain.Rail, proof string) (*domain.DonationRecord, error) {
	query := `SELECT * FROM (` + donationUnion + `) d WHERE rail = $1 AND proof = $2`
	d, err := scanDonation(r.db.QueryRow(ctx, query, string(rail), domain.NormalizeProof(rail, proof)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) ListCampaignDonations(ctx context.Context, campaignID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	return r.listDonations(ctx, "campaign_id", campaignID, opts)
}

func (r *PostgresRepository) ListUserDonations(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	return r.listDonations(ctx, "user_id", userID, opts)
}

func (r *PostgresRepository) listDonations(ctx context.Context, column string, id uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM (` + donationUnion + `) d WHERE ` + column + ` = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, id, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DonationRecord
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

const availableFundsSQL = `
	SELECT (c.raised_amount
		- COALESCE((SELECT SUM(w.amount) FROM withdrawal_requests w WHERE w.campaign_id = c.id AND w.status = 'approved'), 0)
		- COALESCE((SELECT SUM(w.fiat_value) FROM crypto_withdrawals w WHERE w.campaign_id = c.id AND w.status = 'approved'), 0))::text
	FROM campaigns c WHERE c.id = $1`

func availableFunds(ctx context.Context, q querier, campaignID uuid.UUID) (decimal.Decimal, error) {
	var raw string
	if err := q.QueryRow(ctx, availableFundsSQL, campaignID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrCampaignNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (r *PostgresRepository) AvailableFunds(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error) {
	return availableFunds(ctx, r.db, campaignID)
}

func lockCampaign(ctx context.Context, tx pgx.Tx, campaignID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrCampaignNotFound
	}
	return err
}

// CreateWithdrawal inserts a pending request after checking available funds under the campaign lock.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, params domain.RequestWithdrawalParams) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockCampaign(ctx, tx, params.CampaignID); err != nil {
		return nil, err
	}
	available, err := availableFunds(ctx, tx, params.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute available funds: %w", err)
	}
	if params.FiatValue.GreaterThan(available) {
		return nil, fmt.Errorf("%w: requested %s, available %s", domain.ErrExceedsAvailableFunds, params.FiatValue.String(), available.String())
	}

	var id uuid.UUID
	switch params.Rail {
	case domain.RailFiat:
		err = tx.QueryRow(ctx, `
			INSERT INTO withdrawal_requests (campaign_id, user_id, amount, bank_name, account_number, account_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			params.CampaignID, params.RequesterID, params.Amount,
			params.Destination.BankName, params.Destination.AccountNumber, params.Destination.AccountName).Scan(&id)
	case domain.RailCrypto:
		err = tx.QueryRow(ctx, `
			INSERT INTO crypto_withdrawals (campaign_id, user_id, amount, token_type, chain_family, wallet_address, fiat_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			params.CampaignID, params.RequesterID, params.Amount, params.Asset,
			string(params.Destination.Family), params.Destination.WalletAddress, params.FiatValue).Scan(&id)
	default:
		return nil, fmt.Errorf("unknown rail %q", params.Rail)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert withdrawal request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal request: %w", err)
	}
	return r.GetWithdrawal(ctx, id)
}

const withdrawalUnion = `
	SELECT id, campaign_id, user_id, 'fiat' AS rail, amount::text AS amount, 'USD' AS token_type,
		amount::text AS fiat_value, bank_name, account_number, account_name,
		'' AS wallet_address, '' AS chain_family, status::text AS status, notes,
		NULL::text AS tx_hash, reviewer_id, created_at, updated_at, resolved_at
	FROM withdrawal_requests
	UNION ALL
	SELECT id, campaign_id, user_id, 'crypto', amount::text, token_type,
		fiat_value::text, '', '', '',
		wallet_address, chain_family, status::text, notes,
		tx_hash, reviewer_id, created_at, updated_at, resolved_at
	FROM crypto_withdrawals`

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var rail, amount, fiat, family, status string
	err := row.Scan(&w.ID, &w.CampaignID, &w.RequesterID, &rail, &amount, &w.Asset,
		&fiat, &w.Destination.BankName, &w.Destination.AccountNumber, &w.Destination.AccountName,
		&w.Destination.WalletAddress, &family, &status, &w.ReviewerNotes,
		&w.SettlementProof, &w.ReviewerID, &w.CreatedAt, &w.UpdatedAt, &w.ResolvedAt)
	if err != nil {
		return nil, err
	}
	w.Rail = domain.Rail(rail)
	w.Status = domain.WithdrawalStatus(status)
	w.Destination.Family = domain.ChainFamily(family)
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse withdrawal amount: %w", err)
	}
	if w.FiatValue, err = decimal.NewFromString(fiat); err != nil {
		return nil, fmt.Errorf("parse withdrawal fiat value: %w", err)
	}
	return &w, nil
}

func (r *PostgresRepository) GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, `SELECT * FROM (`+withdrawalUnion+`) w WHERE id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		return nil, err
	}
	return w, nil
}

// ResolveWithdrawal locks the request, rejects non-pending requests and, on approval,
// re-checks available funds under the campaign lock.
func (r *PostgresRepository) ResolveWithdrawal(ctx context.Context, params domain.ResolveWithdrawalParams) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	table := "withdrawal_requests"
	var campaignID uuid.UUID
	var status, value string
	err = tx.QueryRow(ctx, `SELECT campaign_id, status::text, amount::text FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, params.RequestID).
		Scan(&campaignID, &status, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		table = "crypto_withdrawals"
		err = tx.QueryRow(ctx, `SELECT campaign_id, status::text, fiat_value::text FROM crypto_withdrawals WHERE id = $1 FOR UPDATE`, params.RequestID).
			Scan(&campaignID, &status, &value)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to lock withdrawal request: %w", err)
	}
	if domain.WithdrawalStatus(status) != domain.WithdrawalPending {
		return nil, fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyResolved, params.RequestID, status)
	}

	next := domain.WithdrawalRejected
	if params.Decision == domain.DecisionApprove {
		next = domain.WithdrawalApproved
		if err := lockCampaign(ctx, tx, campaignID); err != nil {
			return nil, err
		}
		available, err := availableFunds(ctx, tx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to compute available funds: %w", err)
		}
		requested, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal value: %w", err)
		}
		if requested.GreaterThan(available) {
			return nil, fmt.Errorf("%w: approving %s, available %s", domain.ErrExceedsAvailableFunds, requested.String(), available.String())
		}
	}

	notes := nullableString(params.ReviewerNotes)
	var payoutProof *string
	if next == domain.WithdrawalApproved {
		payoutProof = nullableString(params.SettlementProof)
	}
	if table == "crypto_withdrawals" {
		_, err = tx.Exec(ctx, `
			UPDATE crypto_withdrawals
			SET status = $2::withdrawal_status, notes = $3, tx_hash = $4, reviewer_id = $5, resolved_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'pending'`,
			params.RequestID, string(next), notes, payoutProof, params.ReviewerID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE withdrawal_requests
			SET status = $2::withdrawal_status, notes = $3, reviewer_id = $4, resolved_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'pending'`,
			params.RequestID, string(next), notes, params.ReviewerID)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSettlement, params.SettlementProof)
		}
		return nil, fmt.Errorf("failed to resolve withdrawal request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}
	return r.GetWithdrawal(ctx, params.RequestID)
}

func (r *PostgresRepository) ListWithdrawals(ctx context.Context, filter domain.WithdrawalFilter, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	opts = opts.Normalize()
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CampaignID != nil {
		add("campaign_id = $%d", *filter.CampaignID)
	}
	if filter.RequesterID != nil {
		add("user_id = $%d", *filter.RequesterID)
	}
	if filter.Rail != "" {
		add("rail = $%d", string(filter.Rail))
	}
	if opts.Status != "" {
		add("status = $%d", opts.Status)
	}

	query := `SELECT * FROM (` + withdrawalUnion + `) w`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, opts.Limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// ReconcileCampaigns locks every campaign, then corrects drifted aggregates in one statement.
// Donation writers take the same row locks, so no in-flight donation is missed or overwritten.
func (r *PostgresRepository) ReconcileCampaigns(ctx context.Context) ([]domain.CampaignDrift, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT id FROM campaigns ORDER BY id FOR UPDATE`); err != nil {
		return nil, fmt.Errorf("failed to lock campaigns: %w", err)
	}

	rows, err := tx.Query(ctx, `
		WITH computed AS (
			SELECT c.id,
				c.raised_amount AS stored_raised,
				c.donors_count AS stored_donors,
				COALESCE((SELECT SUM(d.amount) FROM donations d WHERE d.campaign_id = c.id), 0)
					+ COALESCE((SELECT SUM(cd.usd_value_at_time) FROM crypto_donations cd WHERE cd.campaign_id = c.id), 0) AS raised,
				(SELECT COUNT(DISTINCT contributor) FROM (
					SELECT COALESCE('user:' || d.user_id::text, 'proof:' || d.checkout_session_id) AS contributor
					FROM donations d WHERE d.campaign_id = c.id
					UNION ALL
					SELECT COALESCE('user:' || cd.user_id::text,
						'wallet:' || NULLIF(CASE WHEN cd.wallet_address LIKE '0x%' THEN lower(cd.wallet_address) ELSE cd.wallet_address END, ''),
						'proof:' || cd.tx_hash)
					FROM crypto_donations cd WHERE cd.campaign_id = c.id
				) contributors)::int AS donors
			FROM campaigns c
		)
		UPDATE campaigns c
		SET raised_amount = computed.raised, donors_count = computed.donors
		FROM computed
		WHERE c.id = computed.id
			AND (c.raised_amount <> computed.raised OR c.donors_count <> computed.donors)
		RETURNING c.id, computed.stored_raised::text, computed.raised::text, computed.stored_donors, computed.donors`)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile campaigns: %w", err)
	}

	var drifts []domain.CampaignDrift
	for rows.Next() {
		var drift domain.CampaignDrift
		var stored, computed string
		if err := rows.Scan(&drift.CampaignID, &stored, &computed, &drift.StoredDonors, &drift.ComputedDonors); err != nil {
			rows.Close()
			return nil, err
		}
		drift.StoredRaised, _ = decimal.NewFromString(stored)
		drift.ComputedRaised, _ = decimal.NewFromString(computed)
		drifts = append(drifts, drift)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return drifts, nil
}

func recordFromParams(params domain.RecordDonationParams) *domain.DonationRecord {
	record := &domain.DonationRecord{
		CampaignID:      params.CampaignID,
		ContributorID:   params.ContributorID,
		Rail:            params.Rail,
		Amount:          params.Amount,
		Asset:           params.Asset,
		FiatEquivalent:  params.FiatEquivalent,
		SettlementProof: params.SettlementProof,
		WalletAddress:   params.WalletAddress,
		Message:         params.Message,
		Anonymous:       params.Anonymous,
	}
	if params.Rail == domain.RailFiat {
		record.Asset = domain.FiatAsset
		record.FiatEquivalent = params.Amount
		record.WalletAddress = nil
	}
	return record
}

func nullableString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func normalizeWallet(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}
