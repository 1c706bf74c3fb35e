package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle payment provider.
type PaddleConfig struct {
	APIKey      string `env:"PADDLE_API_KEY"`
	Environment string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements PaymentProvider for Paddle. The payment proof
// is a Paddle transaction ID produced by the client's hosted checkout; the
// provider fetches the transaction and verifies it actually paid for the
// requested tier on behalf of the requesting account.
type PaddleProvider struct {
	client *paddle.SDK
}

// NewPaddleProvider creates a Paddle payment provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{client: client}, nil
}

// Authorize verifies the Paddle transaction named by proof: it must exist,
// be completed, bill the tier's price ID, and carry the requesting account
// in its custom data. Any mismatch is a decline.
func (p *PaddleProvider) Authorize(ctx context.Context, accountID uuid.UUID, tier Tier, proof string) error {
	if proof == "" {
		return errors.Join(ErrPaymentRejected, errors.New("missing transaction ID"))
	}
	if tier.PriceID == "" {
		return errors.Join(ErrPaymentRejected, fmt.Errorf("tier %q has no provider price", tier.ID))
	}

	txn, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: proof,
	})
	if err != nil {
		return errors.Join(ErrPaymentRejected, err)
	}

	return verifyPaddleTransaction(accountID, tier, proof, txn)
}

// verifyPaddleTransaction checks a fetched transaction against the
// requested transition: it must be completed or paid, bill the tier's
// price ID, and carry the requesting account in its custom data.
// Any mismatch is a decline.
func verifyPaddleTransaction(accountID uuid.UUID, tier Tier, proof string, txn *paddle.Transaction) error {
	if txn.Status != paddle.TransactionStatusCompleted && txn.Status != paddle.TransactionStatusPaid {
		return errors.Join(ErrPaymentRejected, fmt.Errorf("transaction %s has status %s", proof, txn.Status))
	}

	priceMatched := false
	for _, item := range txn.Items {
		if item.Price.ID == tier.PriceID {
			priceMatched = true
			break
		}
	}
	if !priceMatched {
		return errors.Join(ErrPaymentRejected, fmt.Errorf("transaction %s does not bill price %s", proof, tier.PriceID))
	}

	// The checkout flow stores our account ID in the transaction's custom
	// data; a mismatch means the proof belongs to someone else.
	if txn.CustomData != nil {
		if owner, ok := txn.CustomData["account_id"].(string); ok && owner != accountID.String() {
			return errors.Join(ErrPaymentRejected, fmt.Errorf("transaction %s belongs to another account", proof))
		}
	}

	return nil
}
