// Package lifecycle tracks every order through a validated state machine
// with a full audit trail of transitions.
package lifecycle

import (
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erain9/papertrade/pkg/core"
)

// Lifecycle events
const (
	EventCreated   = "CREATED"
	EventTriggered = "TRIGGERED"
	EventFill      = "FILL"
	EventCancelled = "CANCELLED"
	EventRejected  = "REJECTED"
	EventExpired   = "EXPIRED"
)

// validTransitions is the complete set of allowed status transitions.
// Terminal statuses admit none.
var validTransitions = map[core.Status]map[core.Status]bool{
	core.StatusPending: {
		core.StatusTriggered:       true,
		core.StatusFilled:          true,
		core.StatusPartiallyFilled: true,
		core.StatusCancelled:       true,
		core.StatusRejected:        true,
		core.StatusExpired:         true,
	},
	core.StatusTriggered: {
		core.StatusFilled:          true,
		core.StatusPartiallyFilled: true,
		core.StatusCancelled:       true,
		core.StatusRejected:        true,
		core.StatusExpired:         true,
	},
	core.StatusPartiallyFilled: {
		core.StatusFilled:    true,
		core.StatusCancelled: true,
		core.StatusExpired:   true,
	},
	core.StatusFilled:    {},
	core.StatusCancelled: {},
	core.StatusRejected:  {},
	core.StatusExpired:   {},
}

// StateTransition is one audit record of a status change
type StateTransition struct {
	FromStatus  core.Status
	ToStatus    core.Status
	Event       string
	Timestamp   time.Time
	Details     string
	TriggeredBy string
}

// OrderState is the tracked lifecycle state of a single order
type OrderState struct {
	Order             *core.Order
	CurrentStatus     core.Status
	CreatedAt         time.Time
	LastUpdated       time.Time
	FilledQuantity    fpdecimal.Decimal
	RemainingQuantity fpdecimal.Decimal
	AverageFillPrice  fpdecimal.Decimal
	TotalCommission   fpdecimal.Decimal
	Transitions       []StateTransition
	ErrorMessages     []string
	CanCancel         bool
	CanModify         bool
	IsTerminal        bool
}

func (s *OrderState) recomputeFlags() {
	switch s.CurrentStatus {
	case core.StatusPending:
		s.CanCancel, s.CanModify = true, true
	case core.StatusTriggered, core.StatusPartiallyFilled:
		s.CanCancel, s.CanModify = true, false
	default:
		s.CanCancel, s.CanModify = false, false
	}
	s.IsTerminal = s.CurrentStatus.IsTerminal()
}

func (s *OrderState) snapshot() *OrderState {
	copied := *s
	copied.Order = s.Order.Clone()
	copied.Transitions = append([]StateTransition(nil), s.Transitions...)
	copied.ErrorMessages = append([]string(nil), s.ErrorMessages...)
	return &copied
}

// EventCallback receives the order id and the transition that fired it
type EventCallback func(orderID string, transition StateTransition)

// Manager is the order lifecycle manager. All mutations are serialized
// behind its mutex; callbacks run outside the lock.
type Manager struct {
	mu        sync.Mutex
	active    map[string]*OrderState
	completed map[string]*OrderState
	callbacks map[string][]EventCallback
	logger    zerolog.Logger
}

// NewManager creates a new lifecycle manager
func NewManager() *Manager {
	return &Manager{
		active:    make(map[string]*OrderState),
		completed: make(map[string]*OrderState),
		callbacks: make(map[string][]EventCallback),
		logger:    log.With().Str("component", "OrderLifecycleManager").Logger(),
	}
}

// CreateOrder begins tracking an order in PENDING status
func (m *Manager) CreateOrder(order *core.Order) error {
	if order.ID == "" {
		return core.NewLifecycleError("", "", "", "order has no id")
	}

	m.mu.Lock()
	if _, exists := m.active[order.ID]; exists {
		m.mu.Unlock()
		return core.NewLifecycleError(order.ID, "", "", "order is already tracked")
	}
	if _, exists := m.completed[order.ID]; exists {
		m.mu.Unlock()
		return core.NewLifecycleError(order.ID, "", "", "order is already tracked")
	}

	now := time.Now().UTC()
	transition := StateTransition{
		ToStatus:  core.StatusPending,
		Event:     EventCreated,
		Timestamp: now,
	}

	state := &OrderState{
		Order:             order.Clone(),
		CurrentStatus:     core.StatusPending,
		CreatedAt:         now,
		LastUpdated:       now,
		RemainingQuantity: order.AbsQuantity(),
		Transitions:       []StateTransition{transition},
	}
	state.recomputeFlags()
	m.active[order.ID] = state
	m.mu.Unlock()

	m.fireCallbacks(order.ID, transition)

	m.logger.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).
		Msg("Tracking order lifecycle")
	return nil
}

// TransitionOrder moves an order to a new status, recording the
// transition and firing event callbacks
func (m *Manager) TransitionOrder(orderID string, newStatus core.Status, event, details, triggeredBy string) error {
	m.mu.Lock()
	state, exists := m.active[orderID]
	if !exists {
		from := core.Status("")
		if completed, ok := m.completed[orderID]; ok {
			from = completed.CurrentStatus
		}
		m.mu.Unlock()
		if from != "" {
			return core.NewLifecycleError(orderID, from, newStatus, "transition not allowed")
		}
		return core.NewLifecycleError(orderID, "", newStatus, "unknown order")
	}

	from := state.CurrentStatus
	if !validTransitions[from][newStatus] {
		m.mu.Unlock()
		return core.NewLifecycleError(orderID, from, newStatus, "transition not allowed")
	}

	transition := m.applyTransition(state, newStatus, event, details, triggeredBy)
	m.mu.Unlock()

	m.fireCallbacks(orderID, transition)
	return nil
}

// applyTransition mutates state for an already-validated transition.
// Called with the manager lock held.
func (m *Manager) applyTransition(state *OrderState, newStatus core.Status, event, details, triggeredBy string) StateTransition {
	transition := StateTransition{
		FromStatus:  state.CurrentStatus,
		ToStatus:    newStatus,
		Event:       event,
		Timestamp:   time.Now().UTC(),
		Details:     details,
		TriggeredBy: triggeredBy,
	}

	state.CurrentStatus = newStatus
	state.LastUpdated = transition.Timestamp
	state.Transitions = append(state.Transitions, transition)
	state.recomputeFlags()

	orderID := state.Order.ID
	if state.IsTerminal {
		delete(m.active, orderID)
		m.completed[orderID] = state
	}

	m.logger.Info().
		Str("order_id", orderID).
		Str("from", string(transition.FromStatus)).
		Str("to", string(transition.ToStatus)).
		Str("event", event).
		Msg("Order transitioned")
	return transition
}

// UpdateFillDetails accumulates a fill and moves the order to
// PARTIALLY_FILLED or FILLED. The average fill price is weighted by
// quantity across all fills; an overfill is clamped at zero remaining.
func (m *Manager) UpdateFillDetails(orderID string, filledQty, fillPrice, commission fpdecimal.Decimal) error {
	m.mu.Lock()
	state, exists := m.active[orderID]
	if !exists {
		m.mu.Unlock()
		return core.NewLifecycleError(orderID, "", "", "unknown order")
	}

	previousFilled := state.FilledQuantity
	state.FilledQuantity = previousFilled.Add(filledQty)
	state.RemainingQuantity = state.RemainingQuantity.Sub(filledQty)
	if state.RemainingQuantity.LessThan(fpdecimal.Zero) {
		m.logger.Warn().
			Str("order_id", orderID).
			Str("overfill", fpdecimal.Zero.Sub(state.RemainingQuantity).String()).
			Msg("Fill exceeds remaining quantity, clamping")
		state.RemainingQuantity = fpdecimal.Zero
	}

	if state.FilledQuantity.GreaterThan(fpdecimal.Zero) {
		notional := state.AverageFillPrice.Mul(previousFilled).Add(fillPrice.Mul(filledQty))
		state.AverageFillPrice = notional.Div(state.FilledQuantity)
	}
	state.TotalCommission = state.TotalCommission.Add(commission)

	newStatus := core.StatusPartiallyFilled
	if state.RemainingQuantity.Equal(fpdecimal.Zero) {
		newStatus = core.StatusFilled
	}

	var transition StateTransition
	transitioned := false
	if newStatus != state.CurrentStatus {
		if !validTransitions[state.CurrentStatus][newStatus] {
			from := state.CurrentStatus
			m.mu.Unlock()
			return core.NewLifecycleError(orderID, from, newStatus, "transition not allowed")
		}
		details := "filled " + filledQty.String() + " @ " + fillPrice.String()
		transition = m.applyTransition(state, newStatus, EventFill, details, "")
		transitioned = true
	} else {
		state.LastUpdated = time.Now().UTC()
	}
	m.mu.Unlock()

	if transitioned {
		m.fireCallbacks(orderID, transition)
	}
	return nil
}

// CancelOrder cancels an order if its current status allows it
func (m *Manager) CancelOrder(orderID, reason string) error {
	m.mu.Lock()
	state, exists := m.active[orderID]
	if !exists {
		m.mu.Unlock()
		return core.NewLifecycleError(orderID, "", core.StatusCancelled, "unknown order")
	}
	if !state.CanCancel {
		from := state.CurrentStatus
		m.mu.Unlock()
		return core.NewLifecycleError(orderID, from, core.StatusCancelled, "order cannot be cancelled")
	}
	transition := m.applyTransition(state, core.StatusCancelled, EventCancelled, reason, "")
	m.mu.Unlock()

	m.fireCallbacks(orderID, transition)
	return nil
}

// RejectOrder rejects an order, retaining the reason
func (m *Manager) RejectOrder(orderID, reason string) error {
	m.mu.Lock()
	state, exists := m.active[orderID]
	if !exists {
		m.mu.Unlock()
		return core.NewLifecycleError(orderID, "", core.StatusRejected, "unknown order")
	}
	if !validTransitions[state.CurrentStatus][core.StatusRejected] {
		from := state.CurrentStatus
		m.mu.Unlock()
		return core.NewLifecycleError(orderID, from, core.StatusRejected, "transition not allowed")
	}
	state.ErrorMessages = append(state.ErrorMessages, reason)
	transition := m.applyTransition(state, core.StatusRejected, EventRejected, reason, "")
	m.mu.Unlock()

	m.fireCallbacks(orderID, transition)
	return nil
}

// ExpireOrder expires an order
func (m *Manager) ExpireOrder(orderID, reason string) error {
	return m.TransitionOrder(orderID, core.StatusExpired, EventExpired, reason, "")
}

// TriggerOrder marks a conditional order as triggered
func (m *Manager) TriggerOrder(orderID, triggeredBy string) error {
	return m.TransitionOrder(orderID, core.StatusTriggered, EventTriggered, "", triggeredBy)
}

// GetOrderState returns a copy of the tracked state for the order, or
// nil if the id is unknown
func (m *Manager) GetOrderState(orderID string) *OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, exists := m.active[orderID]; exists {
		return state.snapshot()
	}
	if state, exists := m.completed[orderID]; exists {
		return state.snapshot()
	}
	return nil
}

// GetActiveOrders returns copies of all non-terminal order states
func (m *Manager) GetActiveOrders() []*OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]*OrderState, 0, len(m.active))
	for _, state := range m.active {
		states = append(states, state.snapshot())
	}
	return states
}

// GetOrdersByStatus returns active orders in the given status. Terminal
// statuses never appear in the active index, so querying one yields nil.
func (m *Manager) GetOrdersByStatus(status core.Status) []*OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var states []*OrderState
	for _, state := range m.active {
		if state.CurrentStatus == status {
			states = append(states, state.snapshot())
		}
	}
	return states
}

// GetOrdersBySymbol returns active orders for the given symbol
func (m *Manager) GetOrdersBySymbol(symbol string) []*OrderState {
	m.mu.Lock()
	defer m.mu.Unlock()

	var states []*OrderState
	for _, state := range m.active {
		if state.Order.Symbol == symbol {
			states = append(states, state.snapshot())
		}
	}
	return states
}

// RegisterEventCallback registers a callback fired whenever a transition
// with the given event occurs. Callback panics are recovered and logged.
func (m *Manager) RegisterEventCallback(event string, cb EventCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[event] = append(m.callbacks[event], cb)
}

// CleanupCompletedOrders removes completed orders last updated before
// the given age and returns how many were removed
func (m *Manager) CleanupCompletedOrders(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for orderID, state := range m.completed {
		if state.LastUpdated.Before(cutoff) {
			delete(m.completed, orderID)
			removed++
		}
	}
	return removed
}

// Statistics summarizes the tracked population
type Statistics struct {
	TotalOrders     int
	ActiveOrders    int
	CompletedOrders int
	ByStatus        map[core.Status]int
}

// GetStatistics returns totals and a per-status breakdown across both
// the active and completed indices
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{
		ActiveOrders:    len(m.active),
		CompletedOrders: len(m.completed),
		TotalOrders:     len(m.active) + len(m.completed),
		ByStatus:        make(map[core.Status]int),
	}
	for _, state := range m.active {
		stats.ByStatus[state.CurrentStatus]++
	}
	for _, state := range m.completed {
		stats.ByStatus[state.CurrentStatus]++
	}
	return stats
}

// fireCallbacks invokes callbacks registered for the transition's event.
// Failures never propagate to the caller.
func (m *Manager) fireCallbacks(orderID string, transition StateTransition) {
	m.mu.Lock()
	callbacks := append([]EventCallback(nil), m.callbacks[transition.Event]...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().
						Str("order_id", orderID).
						Str("event", transition.Event).
						Interface("panic", r).
						Msg("Event callback panicked")
				}
			}()
			cb(orderID, transition)
		}()
	}
}
