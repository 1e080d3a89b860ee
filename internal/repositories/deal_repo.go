package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
)

const dealColumns = `
	id, channel_id, channel_owner_id, advertiser_id, source_type, source_id,
	amount::text, format, post_duration_hours, platform_fee_bps, brief,
	status, last_activity_at, auto_cancel_deadline, cancel_reason, dispute_reason, created_at, updated_at,
	current_creative, creative_history,
	escrow_account_ref, escrow_balance_last_observed::text, advertiser_refund_address,
	scheduled_time, posted_at, post_ref, verification_checks,
	resolution`

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	args, err := dealArgs(d)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO deals (channel_id, channel_owner_id, advertiser_id, source_type, source_id,
		                   amount, format, post_duration_hours, platform_fee_bps, brief,
		                   status, last_activity_at, auto_cancel_deadline, cancel_reason, dispute_reason,
		                   current_creative, creative_history,
		                   escrow_account_ref, escrow_balance_last_observed, advertiser_refund_address,
		                   scheduled_time, posted_at, post_ref, verification_checks, resolution)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19::numeric, $20, $21, $22, $23, $24, $25)
		RETURNING id, created_at, updated_at
	`, append([]any{d.ChannelID, d.ChannelOwnerID, d.AdvertiserID, d.SourceType, d.SourceID}, args...)...,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	d, err := scanDeal(row)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return d, nil
}

// Update writes every mutable field of d, but only if the stored status is
// still expectedStatus.
func (r *DealRepo) Update(ctx context.Context, d *models.Deal, expectedStatus string) error {
	args, err := dealArgs(d)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET
			amount = $3::numeric, format = $4, post_duration_hours = $5, platform_fee_bps = $6, brief = $7,
			status = $8, last_activity_at = $9, auto_cancel_deadline = $10, cancel_reason = $11, dispute_reason = $12,
			current_creative = $13, creative_history = $14,
			escrow_account_ref = $15, escrow_balance_last_observed = $16::numeric, advertiser_refund_address = $17,
			scheduled_time = $18, posted_at = $19, post_ref = $20, verification_checks = $21, resolution = $22,
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, append([]any{d.ID, expectedStatus}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, d.ID)
	}
	return nil
}

// AppendVerificationCheck appends one check without touching last_activity_at.
func (r *DealRepo) AppendVerificationCheck(ctx context.Context, id uuid.UUID, expectedStatus string, check models.VerificationCheck) error {
	data, err := json.Marshal([]models.VerificationCheck{check})
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET verification_checks = verification_checks || $3::jsonb, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, expectedStatus, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *DealRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*models.Deal, error) {
	return r.query(ctx, `SELECT `+dealColumns+` FROM deals WHERE status = $1 ORDER BY updated_at LIMIT $2`,
		status, normLimit(limit))
}

func (r *DealRepo) ListDueForPublish(ctx context.Context, now time.Time, limit int) ([]*models.Deal, error) {
	return r.query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = 'scheduled' AND scheduled_time <= $1
		ORDER BY scheduled_time LIMIT $2
	`, now, normLimit(limit))
}

func (r *DealRepo) ListTimedOut(ctx context.Context, statuses []string, now time.Time, limit int) ([]*models.Deal, error) {
	return r.query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = ANY($1) AND auto_cancel_deadline <= $2
		ORDER BY auto_cancel_deadline LIMIT $3
	`, statuses, now, normLimit(limit))
}

type DealFilter struct {
	UserID uuid.UUID // advertiser or channel owner
	Status *string
	Limit  int
	Offset int
}

func (r *DealRepo) ListForUser(ctx context.Context, f DealFilter) ([]*models.Deal, error) {
	where := []string{"(advertiser_id = $1 OR channel_owner_id = $1)"}
	args := []any{f.UserID}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM deals WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		dealColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	return r.query(ctx, query, args...)
}

func (r *DealRepo) query(ctx context.Context, sql string, args ...any) ([]*models.Deal, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

func (r *DealRepo) missOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

// dealArgs returns the mutable columns starting at amount, in Update order.
func dealArgs(d *models.Deal) ([]any, error) {
	brief, err := jsonOrNil(d.Brief)
	if err != nil {
		return nil, fmt.Errorf("marshal brief: %w", err)
	}
	creative, err := jsonOrNil(d.CurrentCreative)
	if err != nil {
		return nil, fmt.Errorf("marshal creative: %w", err)
	}
	history, err := jsonList(d.CreativeHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal creative history: %w", err)
	}
	postRef, err := jsonOrNil(d.PostRef)
	if err != nil {
		return nil, fmt.Errorf("marshal post ref: %w", err)
	}
	checks, err := jsonList(d.VerificationChecks)
	if err != nil {
		return nil, fmt.Errorf("marshal verification checks: %w", err)
	}
	resolution, err := jsonOrNil(d.Resolution)
	if err != nil {
		return nil, fmt.Errorf("marshal resolution: %w", err)
	}
	var observed *string
	if d.EscrowBalanceLastObserved != nil {
		s := d.EscrowBalanceLastObserved.String()
		observed = &s
	}
	return []any{
		d.Amount.String(), d.Format, d.PostDurationHours, d.PlatformFeeBPS, brief,
		d.Status, d.LastActivityAt, d.AutoCancelDeadline, d.CancelReason, d.DisputeReason,
		creative, history,
		d.EscrowAccountRef, observed, d.AdvertiserRefundAddress,
		d.ScheduledTime, d.PostedAt, postRef, checks, resolution,
	}, nil
}

func scanDeal(row pgx.Row) (*models.Deal, error) {
	var (
		d                                         models.Deal
		amount                                    string
		observed                                  *string
		brief, creative, history, postRef, checks []byte
		resolution                                []byte
	)
	if err := row.Scan(
		&d.ID, &d.ChannelID, &d.ChannelOwnerID, &d.AdvertiserID, &d.SourceType, &d.SourceID,
		&amount, &d.Format, &d.PostDurationHours, &d.PlatformFeeBPS, &brief,
		&d.Status, &d.LastActivityAt, &d.AutoCancelDeadline, &d.CancelReason, &d.DisputeReason, &d.CreatedAt, &d.UpdatedAt,
		&creative, &history,
		&d.EscrowAccountRef, &observed, &d.AdvertiserRefundAddress,
		&d.ScheduledTime, &d.PostedAt, &postRef, &checks,
		&resolution,
	); err != nil {
		return nil, err
	}

	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if observed != nil {
		v, err := decimal.NewFromString(*observed)
		if err != nil {
			return nil, fmt.Errorf("parse observed balance: %w", err)
		}
		d.EscrowBalanceLastObserved = &v
	}
	if d.Brief, err = unmarshalOptional[models.Brief](brief); err != nil {
		return nil, fmt.Errorf("unmarshal brief: %w", err)
	}
	if d.CurrentCreative, err = unmarshalOptional[models.Creative](creative); err != nil {
		return nil, fmt.Errorf("unmarshal creative: %w", err)
	}
	if d.PostRef, err = unmarshalOptional[models.PostRef](postRef); err != nil {
		return nil, fmt.Errorf("unmarshal post ref: %w", err)
	}
	if d.Resolution, err = unmarshalOptional[models.Resolution](resolution); err != nil {
		return nil, fmt.Errorf("unmarshal resolution: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.CreativeHistory); err != nil {
			return nil, fmt.Errorf("unmarshal creative history: %w", err)
		}
	}
	if len(checks) > 0 {
		if err := json.Unmarshal(checks, &d.VerificationChecks); err != nil {
			return nil, fmt.Errorf("unmarshal verification checks: %w", err)
		}
	}
	return &d, nil
}

func normLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
