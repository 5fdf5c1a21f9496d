package issuer

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
)

// CodeSender delivers a one-time code to the resource owner. Implementations
// own the transport (email, SMS, console); the delegate only guarantees the
// code is single-use and short-lived.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// SlogCodeSender writes codes to the structured log. It is the development
// default; production wires a real mail sender.
type SlogCodeSender struct {
	Logger *slog.Logger
}

func (s *SlogCodeSender) SendCode(ctx context.Context, email, code string) error {
	s.Logger.InfoContext(ctx, "one-time code issued", "email", email, "code", code)
	return nil
}

// codeDigits is the length of a one-time code.
const codeDigits = 6

// generateCode returns a uniformly random numeric code, zero-padded to
// codeDigits.
func generateCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
