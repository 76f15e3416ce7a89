package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resona/internal/models"
)

// TransferResult reports both legs of a committed transfer.
type TransferResult struct {
	TransferID            uuid.UUID `json:"transfer_id"`
	Amount                int64     `json:"amount"`
	SenderTransactionID   uuid.UUID `json:"sender_transaction_id"`
	SenderBalance         int64     `json:"sender_balance"`
	ReceiverTransactionID uuid.UUID `json:"receiver_transaction_id"`
	ReceiverBalance       int64     `json:"receiver_balance"`
}

// TransferPreviewResult identifies the beneficiary of a prospective transfer.
type TransferPreviewResult struct {
	BeneficiaryName  string `json:"beneficiary_name"`
	BeneficiaryEmail string `json:"beneficiary_email"`
}

// Transfer moves credits between users: a FIFO draw against the sender paired
// with a new never-expiring batch for the receiver, both legs sharing one
// correlation id and committing as a single atomic unit. The store locks both
// users for the duration, so opposite-direction transfers cannot interleave.
func (s *Service) Transfer(ctx context.Context, fromEmail, toEmail string, amount int64, description string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.EqualFold(fromEmail, toEmail) {
		return nil, ErrSelfTransfer
	}

	sender, err := s.resolveUser(ctx, fromEmail)
	if err != nil {
		return nil, err
	}
	receiver, err := s.resolveUser(ctx, toEmail)
	if err != nil {
		return nil, err
	}

	transferID := uuid.New()
	var result *TransferResult
	err = s.store.Update(ctx, []uuid.UUID{sender.ID, receiver.ID}, func(tx Tx) error {
		now := s.now()

		plan, err := s.planDraw(ctx, tx, sender.ID, amount, now)
		if err != nil {
			return err
		}

		// The receiver batch is booked against the package of the first
		// batch the sender drew from, falling back to the system package.
		packageID := s.systemPackageID
		for _, batch := range plan.batches {
			if batch.PackageID != nil {
				packageID = *batch.PackageID
				break
			}
		}

		senderDesc := description
		if senderDesc == "" {
			senderDesc = fmt.Sprintf("Transfer to %s", receiver.Email)
		}
		senderTxn := &models.Transaction{
			ID:                   uuid.New(),
			UserID:               sender.ID,
			Type:                 models.TransactionDebit,
			Source:               models.SourcePeerTransfer,
			Amount:               amount,
			BalanceAfter:         plan.balanceAfter,
			Description:          senderDesc,
			RelatedTransactionID: &transferID,
			PackageID:            &packageID,
			Metadata: map[string]any{
				"transfer_id":     transferID.String(),
				"recipient_email": receiver.Email,
			},
			CreatedAt: now,
		}
		if err := tx.InsertTransaction(ctx, senderTxn); err != nil {
			return fmt.Errorf("ledger: insert sender transaction: %w", err)
		}
		meta := map[string]any{
			"transfer_id":     transferID.String(),
			"recipient_email": receiver.Email,
		}
		if err := plan.apply(ctx, tx, senderTxn.ID, "", meta); err != nil {
			return err
		}

		receiverBatches, err := tx.ActiveBatches(ctx, receiver.ID, now)
		if err != nil {
			return err
		}
		receiverBalance := sumRemaining(receiverBatches) + amount

		receiverDesc := description
		if receiverDesc == "" {
			receiverDesc = fmt.Sprintf("Transfer from %s", sender.Email)
		}
		receiverTxn := &models.Transaction{
			ID:                   uuid.New(),
			UserID:               receiver.ID,
			Type:                 models.TransactionCredit,
			Source:               models.SourcePeerTransfer,
			Amount:               amount,
			BalanceAfter:         receiverBalance,
			Description:          receiverDesc,
			RelatedTransactionID: &transferID,
			PackageID:            &packageID,
			Metadata: map[string]any{
				"transfer_id":  transferID.String(),
				"sender_email": sender.Email,
			},
			CreatedAt: now,
		}
		if err := tx.InsertTransaction(ctx, receiverTxn); err != nil {
			return fmt.Errorf("ledger: insert receiver transaction: %w", err)
		}

		// Transferred credits never expire, whatever the expiry of the
		// batches they were drawn from.
		receiverBatch := &models.BalanceBatch{
			ID:              uuid.New(),
			UserID:          receiver.ID,
			PackageID:       &packageID,
			TransactionID:   receiverTxn.ID,
			InitialAmount:   amount,
			RemainingAmount: amount,
			IsActive:        true,
			CreatedAt:       now,
		}
		if err := tx.InsertBatch(ctx, receiverBatch); err != nil {
			return fmt.Errorf("ledger: insert receiver batch: %w", err)
		}

		result = &TransferResult{
			TransferID:            transferID,
			Amount:                amount,
			SenderTransactionID:   senderTxn.ID,
			SenderBalance:         plan.balanceAfter,
			ReceiverTransactionID: receiverTxn.ID,
			ReceiverBalance:       receiverBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditsTransferred.Add(float64(amount))
	s.logger.Info("credits transferred",
		zap.String("transfer_id", transferID.String()),
		zap.String("from_user_id", sender.ID.String()),
		zap.String("to_user_id", receiver.ID.String()),
		zap.Int64("amount", amount),
	)
	return result, nil
}

// TransferPreview resolves the beneficiary and checks the sender's balance
// without mutating anything.
func (s *Service) TransferPreview(ctx context.Context, fromEmail, toEmail string, amount int64) (*TransferPreviewResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.EqualFold(fromEmail, toEmail) {
		return nil, ErrSelfTransfer
	}

	now := s.now()
	var preview *TransferPreviewResult
	err := s.store.View(ctx, func(tx Tx) error {
		sender, err := tx.UserByEmail(ctx, fromEmail)
		if err != nil {
			return err
		}
		receiver, err := tx.UserByEmail(ctx, toEmail)
		if err != nil {
			return err
		}
		batches, err := tx.ActiveBatches(ctx, sender.ID, now)
		if err != nil {
			return err
		}
		if sumRemaining(batches) < amount {
			return ErrInsufficientCredits
		}
		preview = &TransferPreviewResult{
			BeneficiaryName:  receiver.Name,
			BeneficiaryEmail: receiver.Email,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preview, nil
}
