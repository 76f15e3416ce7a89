package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"resona/internal/ledger"
	"resona/internal/models"
)

// unit implements ledger.Tx over one sql transaction.
type unit struct {
	tx *sql.Tx
}

func (u *unit) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const query = `SELECT id, email, name FROM users WHERE id = $1`
	var user models.User
	err := u.tx.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *unit) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT id, email, name FROM users WHERE email = $1`
	var user models.User
	err := u.tx.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

const packageColumns = `id, name, credits, price, is_subscription, expiration_days, platform, product_id, price_id, created_at`

func (u *unit) PackageByID(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages WHERE id = $1`
	return u.scanPackage(u.tx.QueryRowContext(ctx, query, id))
}

func (u *unit) PackageByPlatformProduct(ctx context.Context, platform models.SubscriptionPlatform, productID string) (*models.CreditPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM credit_packages WHERE platform = $1 AND product_id = $2`
	return u.scanPackage(u.tx.QueryRowContext(ctx, query, string(platform), productID))
}

func (u *unit) scanPackage(row *sql.Row) (*models.CreditPackage, error) {
	var (
		pkg            models.CreditPackage
		expirationDays sql.NullInt64
		platform       string
	)
	err := row.Scan(
		&pkg.ID,
		&pkg.Name,
		&pkg.Credits,
		&pkg.Price,
		&pkg.IsSubscription,
		&expirationDays,
		&platform,
		&pkg.ProductID,
		&pkg.PriceID,
		&pkg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	if expirationDays.Valid {
		days := int(expirationDays.Int64)
		pkg.ExpirationDays = &days
	}
	pkg.Platform = models.SubscriptionPlatform(platform)
	return &pkg, nil
}

const batchColumns = `id, user_id, package_id, transaction_id, initial_amount, remaining_amount, expires_at, consumed_at, is_active, created_at`

// activeBatchQuery orders by expiry ascending with never-expiring batches
// last: the consumption order.
const activeBatchQuery = `
	SELECT ` + batchColumns + `
	FROM user_credit_balances
	WHERE user_id = $1
	  AND is_active
	  AND remaining_amount > 0
	  AND (expires_at IS NULL OR expires_at > $2)
	ORDER BY expires_at ASC NULLS LAST, created_at ASC
`

func (u *unit) ActiveBatches(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.BalanceBatch, error) {
	rows, err := u.tx.QueryContext(ctx, activeBatchQuery, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []models.BalanceBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}
	return batches, rows.Err()
}

func (u *unit) ActiveBatchRecords(ctx context.Context, userID uuid.UUID, now time.Time) ([]ledger.BatchRecord, error) {
	const query = `
		SELECT b.id, b.user_id, b.package_id, b.transaction_id, b.initial_amount, b.remaining_amount,
		       b.expires_at, b.consumed_at, b.is_active, b.created_at,
		       p.id, p.name, p.credits, p.price, p.is_subscription, p.expiration_days,
		       p.platform, p.product_id, p.price_id, p.created_at
		FROM user_credit_balances b
		LEFT JOIN credit_packages p ON p.id = b.package_id
		WHERE b.user_id = $1
		  AND b.is_active
		  AND b.remaining_amount > 0
		  AND (b.expires_at IS NULL OR b.expires_at > $2)
		ORDER BY b.expires_at ASC NULLS LAST, b.created_at ASC
	`
	rows, err := u.tx.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.BatchRecord
	for rows.Next() {
		var (
			batch        models.BalanceBatch
			packageID    uuid.NullUUID
			expiresAt    sql.NullTime
			consumedAt   sql.NullTime
			pkgID        uuid.NullUUID
			pkgName      sql.NullString
			pkgCredits   sql.NullInt64
			pkgPrice     sql.NullString
			pkgIsSub     sql.NullBool
			pkgExpDays   sql.NullInt64
			pkgPlatform  sql.NullString
			pkgProductID sql.NullString
			pkgPriceID   sql.NullString
			pkgCreatedAt sql.NullTime
		)
		err := rows.Scan(
			&batch.ID, &batch.UserID, &packageID, &batch.TransactionID,
			&batch.InitialAmount, &batch.RemainingAmount,
			&expiresAt, &consumedAt, &batch.IsActive, &batch.CreatedAt,
			&pkgID, &pkgName, &pkgCredits, &pkgPrice, &pkgIsSub, &pkgExpDays,
			&pkgPlatform, &pkgProductID, &pkgPriceID, &pkgCreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if packageID.Valid {
			batch.PackageID = &packageID.UUID
		}
		if expiresAt.Valid {
			batch.ExpiresAt = &expiresAt.Time
		}
		if consumedAt.Valid {
			batch.ConsumedAt = &consumedAt.Time
		}

		rec := ledger.BatchRecord{Batch: batch}
		if pkgID.Valid {
			pkg := &models.CreditPackage{
				ID:             pkgID.UUID,
				Name:           pkgName.String,
				Credits:        pkgCredits.Int64,
				IsSubscription: pkgIsSub.Bool,
				Platform:       models.SubscriptionPlatform(pkgPlatform.String),
				ProductID:      pkgProductID.String,
				PriceID:        pkgPriceID.String,
				CreatedAt:      pkgCreatedAt.Time,
			}
			if pkgPrice.Valid {
				if err := pkg.Price.Scan(pkgPrice.String); err != nil {
					return nil, err
				}
			}
			if pkgExpDays.Valid {
				days := int(pkgExpDays.Int64)
				pkg.ExpirationDays = &days
			}
			rec.Package = pkg
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanBatch(rows *sql.Rows) (*models.BalanceBatch, error) {
	var (
		batch      models.BalanceBatch
		packageID  uuid.NullUUID
		expiresAt  sql.NullTime
		consumedAt sql.NullTime
	)
	err := rows.Scan(
		&batch.ID,
		&batch.UserID,
		&packageID,
		&batch.TransactionID,
		&batch.InitialAmount,
		&batch.RemainingAmount,
		&expiresAt,
		&consumedAt,
		&batch.IsActive,
		&batch.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if packageID.Valid {
		batch.PackageID = &packageID.UUID
	}
	if expiresAt.Valid {
		batch.ExpiresAt = &expiresAt.Time
	}
	if consumedAt.Valid {
		batch.ConsumedAt = &consumedAt.Time
	}
	return &batch, nil
}

func (u *unit) InsertBatch(ctx context.Context, batch *models.BalanceBatch) error {
	const query = `
		INSERT INTO user_credit_balances
			(id, user_id, package_id, transaction_id, initial_amount, remaining_amount, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := u.tx.ExecContext(ctx, query,
		batch.ID,
		batch.UserID,
		nullUUID(batch.PackageID),
		batch.TransactionID,
		batch.InitialAmount,
		batch.RemainingAmount,
		nullTime(batch.ExpiresAt),
		batch.IsActive,
		batch.CreatedAt,
	)
	return err
}

func (u *unit) UpdateBatch(ctx context.Context, batch *models.BalanceBatch) error {
	const query = `
		UPDATE user_credit_balances
		SET remaining_amount = $2, consumed_at = $3, is_active = $4
		WHERE id = $1
	`
	result, err := u.tx.ExecContext(ctx, query,
		batch.ID,
		batch.RemainingAmount,
		nullTime(batch.ConsumedAt),
		batch.IsActive,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("postgres: balance batch %s not found", batch.ID)
	}
	return nil
}

func (u *unit) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	const query = `
		INSERT INTO credit_transactions
			(id, user_id, transaction_type, transaction_source, amount, balance_after, description,
			 api_endpoint, platform_transaction_id, related_transaction_id, subscription_id, package_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	metadata, err := marshalMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	_, err = u.tx.ExecContext(ctx, query,
		txn.ID,
		txn.UserID,
		string(txn.Type),
		string(txn.Source),
		txn.Amount,
		txn.BalanceAfter,
		txn.Description,
		txn.APIEndpoint,
		txn.PlatformTransactionID,
		nullUUID(txn.RelatedTransactionID),
		nullUUID(txn.SubscriptionID),
		nullUUID(txn.PackageID),
		metadata,
		txn.CreatedAt,
	)
	return err
}

func (u *unit) InsertConsumptionLogs(ctx context.Context, logs []models.ConsumptionLog) error {
	const query = `
		INSERT INTO credit_consumption_logs
			(id, user_id, balance_id, transaction_id, amount, api_endpoint, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, log := range logs {
		metadata, err := marshalMetadata(log.Metadata)
		if err != nil {
			return err
		}
		_, err = u.tx.ExecContext(ctx, query,
			log.ID,
			log.UserID,
			log.BalanceID,
			log.TransactionID,
			log.Amount,
			log.APIEndpoint,
			metadata,
			log.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

const subscriptionColumns = `id, user_id, package_id, platform, platform_subscription_id, status,
	current_period_start, current_period_end, cancel_at_period_end, credits_per_period, created_at`

func (u *unit) SubscriptionByPlatformID(ctx context.Context, platformSubscriptionID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM user_subscriptions WHERE platform_subscription_id = $1`
	sub, err := scanSubscription(u.tx.QueryRowContext(ctx, query, platformSubscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSubscriptionNotFound
	}
	return sub, err
}

func (u *unit) ActiveSubscription(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM user_subscriptions
		WHERE user_id = $1 AND status = 'active' AND current_period_end > $2
		ORDER BY current_period_end DESC
		LIMIT 1
	`
	sub, err := scanSubscription(u.tx.QueryRowContext(ctx, query, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	var (
		sub      models.Subscription
		platform string
	)
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PackageID,
		&platform,
		&sub.PlatformSubscriptionID,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
		&sub.CreditsPerPeriod,
		&sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Platform = models.SubscriptionPlatform(platform)
	return &sub, nil
}

const transactionColumns = `id, user_id, transaction_type, transaction_source, amount, balance_after, description,
	api_endpoint, platform_transaction_id, related_transaction_id, subscription_id, package_id, metadata, created_at`

func (u *unit) TransactionPage(ctx context.Context, userID uuid.UUID, filter ledger.HistoryFilter, limit, offset int) ([]ledger.TransactionRecord, int, error) {
	conditions := []string{"t.user_id = $1"}
	args := []any{userID}

	appendCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.Type != nil {
		appendCondition("t.transaction_type = $%d", string(*filter.Type))
	}
	if filter.Source != nil {
		appendCondition("t.transaction_source = $%d", string(*filter.Source))
	}
	if filter.StartDate != nil {
		appendCondition("t.created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		appendCondition("t.created_at <= $%d", *filter.EndDate)
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM credit_transactions t WHERE ` + where
	if err := u.tx.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.user_id, t.transaction_type, t.transaction_source, t.amount, t.balance_after, t.description,
		       t.api_endpoint, t.platform_transaction_id, t.related_transaction_id, t.subscription_id, t.package_id,
		       t.metadata, t.created_at,
		       p.id, p.name, p.credits, p.is_subscription
		FROM credit_transactions t
		LEFT JOIN credit_packages p ON p.id = t.package_id
		WHERE %s
		ORDER BY t.created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := u.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []ledger.TransactionRecord
	for rows.Next() {
		var (
			txn        models.Transaction
			txnType    string
			txnSource  string
			relatedID  uuid.NullUUID
			subID      uuid.NullUUID
			packageID  uuid.NullUUID
			metadata   []byte
			pkgID      uuid.NullUUID
			pkgName    sql.NullString
			pkgCredits sql.NullInt64
			pkgIsSub   sql.NullBool
		)
		err := rows.Scan(
			&txn.ID, &txn.UserID, &txnType, &txnSource, &txn.Amount, &txn.BalanceAfter, &txn.Description,
			&txn.APIEndpoint, &txn.PlatformTransactionID, &relatedID, &subID, &packageID,
			&metadata, &txn.CreatedAt,
			&pkgID, &pkgName, &pkgCredits, &pkgIsSub,
		)
		if err != nil {
			return nil, 0, err
		}
		txn.Type = models.TransactionType(txnType)
		txn.Source = models.TransactionSource(txnSource)
		if relatedID.Valid {
			txn.RelatedTransactionID = &relatedID.UUID
		}
		if subID.Valid {
			txn.SubscriptionID = &subID.UUID
		}
		if packageID.Valid {
			txn.PackageID = &packageID.UUID
		}
		if err := unmarshalMetadata(metadata, &txn.Metadata); err != nil {
			return nil, 0, err
		}

		rec := ledger.TransactionRecord{Transaction: txn}
		if pkgID.Valid {
			rec.Package = &models.CreditPackage{
				ID:             pkgID.UUID,
				Name:           pkgName.String,
				Credits:        pkgCredits.Int64,
				IsSubscription: pkgIsSub.Bool,
			}
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (u *unit) TransactionsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	rows, err := u.tx.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var (
			txn       models.Transaction
			txnType   string
			txnSource string
			relatedID uuid.NullUUID
			subID     uuid.NullUUID
			packageID uuid.NullUUID
			metadata  []byte
		)
		err := rows.Scan(
			&txn.ID, &txn.UserID, &txnType, &txnSource, &txn.Amount, &txn.BalanceAfter, &txn.Description,
			&txn.APIEndpoint, &txn.PlatformTransactionID, &relatedID, &subID, &packageID,
			&metadata, &txn.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		txn.Type = models.TransactionType(txnType)
		txn.Source = models.TransactionSource(txnSource)
		if relatedID.Valid {
			txn.RelatedTransactionID = &relatedID.UUID
		}
		if subID.Valid {
			txn.SubscriptionID = &subID.UUID
		}
		if packageID.Valid {
			txn.PackageID = &packageID.UUID
		}
		if err := unmarshalMetadata(metadata, &txn.Metadata); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (u *unit) ActionCosts(ctx context.Context) ([]models.ActionCost, error) {
	const query = `SELECT action_type, cost, endpoint, is_active FROM action_costs WHERE is_active`
	rows, err := u.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var costs []models.ActionCost
	for rows.Next() {
		var cost models.ActionCost
		if err := rows.Scan(&cost.ActionType, &cost.Cost, &cost.Endpoint, &cost.IsActive); err != nil {
			return nil, err
		}
		costs = append(costs, cost)
	}
	return costs, rows.Err()
}

func (u *unit) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	const query = `INSERT INTO processed_billing_events (event_id) VALUES ($1) ON CONFLICT DO NOTHING`
	result, err := u.tx.ExecContext(ctx, query, eventID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func unmarshalMetadata(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}
