package payments

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var ErrChargeDeclined = errors.New("charge declined")

type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	Source         string
	IdempotencyKey string
}

// Gateway charges a payment source and returns the provider's charge id.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

// SandboxGateway accepts every source except tok_chargeDeclined and never
// leaves the process. Repeating an idempotency key returns the same charge.
type SandboxGateway struct {
	mu      sync.Mutex
	charges map[string]string
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{charges: map[string]string{}}
}

func (g *SandboxGateway) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", errors.Newf("invalid amount %d", req.AmountCents)
	}
	if strings.TrimSpace(req.Source) == "" || req.Source == "tok_chargeDeclined" {
		return "", errors.Wrapf(ErrChargeDeclined, "source %q", req.Source)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.charges[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}
	id := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if req.IdempotencyKey != "" {
		g.charges[req.IdempotencyKey] = id
	}
	return id, nil
}

func toCents(price float64) int64 {
	return int64(math.Round(price * 100))
}
