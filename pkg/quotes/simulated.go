package quotes

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/papertrade/pkg/core"
)

// SimulatedSource serves quotes from an in-memory random walk, for
// paper sessions that run without market connectivity. Each GetQuote
// call steps the walk for the requested symbol.
type SimulatedSource struct {
	mu     sync.Mutex
	prices map[string]float64
	// StepPercent bounds the per-tick move, e.g. 0.5 for +-0.5%
	stepPercent float64
	rng         *rand.Rand
}

// NewSimulatedSource seeds a random-walk source with starting prices
// per symbol.
func NewSimulatedSource(start map[string]float64, stepPercent float64, seed int64) *SimulatedSource {
	prices := make(map[string]float64, len(start))
	for symbol, price := range start {
		prices[symbol] = price
	}
	if stepPercent <= 0 {
		stepPercent = 0.5
	}
	return &SimulatedSource{
		prices:      prices,
		stepPercent: stepPercent,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// GetQuote steps the walk for the symbol and returns the new price.
func (s *SimulatedSource) GetQuote(_ context.Context, symbol string) (*core.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no simulated price for symbol %q", symbol)
	}

	// move in (-step, +step) percent
	move := (s.rng.Float64()*2 - 1) * s.stepPercent / 100
	price = price * (1 + move)
	s.prices[symbol] = price

	return &core.Quote{
		Symbol:    symbol,
		Price:     fpdecimal.FromFloat(price),
		Timestamp: time.Now().UTC(),
	}, nil
}

// SetPrice pins the current price for a symbol.
func (s *SimulatedSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}
