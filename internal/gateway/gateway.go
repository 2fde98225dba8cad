package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultProvider decides the outcome of a charge against the external payment
// gateway. The returned bool is the business outcome (declined is not an
// error); the error means the gateway could not be reached at all.
type ResultProvider interface {
	Charge(ctx context.Context, orderID uuid.UUID, amount float64) (bool, error)
}

// Simulated stands in for a real gateway integration: a fixed network delay
// and a configurable success percentage.
type Simulated struct {
	successPercent int
	delay          time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(successPercent int, delay time.Duration) *Simulated {
	if successPercent < 0 {
		successPercent = 0
	}
	if successPercent > 100 {
		successPercent = 100
	}
	if delay < 0 {
		delay = 0
	}
	return &Simulated{
		successPercent: successPercent,
		delay:          delay,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Simulated) Charge(ctx context.Context, orderID uuid.UUID, amount float64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("invalid amount %v", amount)
	}

	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(g.delay):
		}
	}

	g.mu.Lock()
	n := g.rnd.Intn(100)
	g.mu.Unlock()

	return n < g.successPercent, nil
}

// Fixed always returns the same outcome. Tests use it to force a specific
// gateway result instead of relying on a probability distribution.
type Fixed struct {
	Success bool
	Err     error
}

func (g Fixed) Charge(ctx context.Context, orderID uuid.UUID, amount float64) (bool, error) {
	return g.Success, g.Err
}
