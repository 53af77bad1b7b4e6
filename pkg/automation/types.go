package automation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies which side of a trade a task protects
type Kind string

const (
	KindTakeProfit Kind = "take_profit"
	KindStopLoss   Kind = "stop_loss"
)

// Mode records how a task reference came to exist
type Mode string

const (
	// ModeRegistered means the automation service accepted the task
	ModeRegistered Mode = "registered"
	// ModeSimulatedFallback means the service was unreachable and the task only exists locally
	ModeSimulatedFallback Mode = "simulated_fallback"
)

// Task status values reported by the service
const (
	StatusRegistered = "registered"
	StatusActive     = "active"
	StatusExecuted   = "executed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

// TaskRef points at an automation task
type TaskRef struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	Mode       Mode   `json:"mode"`
	FunctionID string `json:"functionId,omitempty"`
	ExpiryTime string `json:"expiryTime,omitempty"`
}

// IsFallback reports whether the task only exists locally
func (r TaskRef) IsFallback() bool {
	return r.Mode == ModeSimulatedFallback
}

// Registration holds the TP and SL tasks registered for one trade
type Registration struct {
	TakeProfit   TaskRef   `json:"takeProfit"`
	StopLoss     TaskRef   `json:"stopLoss"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Refs returns both task references
func (r Registration) Refs() []TaskRef {
	return []TaskRef{r.TakeProfit, r.StopLoss}
}

// Degraded reports whether any task fell back to local simulation
func (r Registration) Degraded() bool {
	return r.TakeProfit.IsFallback() || r.StopLoss.IsFallback()
}

// TradeParams describes the trade a TP/SL pair is registered for
type TradeParams struct {
	Wallet          string
	TokenPair       string
	EntryPrice      decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	TradeAmount     decimal.Decimal
	SlippagePercent float64
}

// TaskRequest is the body sent to register or simulate a task
type TaskRequest struct {
	TargetEntryFunction string            `json:"target_entry_function"`
	Args                map[string]string `json:"args"`
	ExpiryTime          string            `json:"expiry_time"`
	MaxGasAmount        uint64            `json:"max_gas_amount"`
	GasPriceCap         uint64            `json:"gas_price_cap"`
	AutomationFeeCap    uint64            `json:"automation_fee_cap"`
	Simulate            bool              `json:"simulate,omitempty"`
}

type registerResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskStatus is the last known state of a task
type TaskStatus struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	FunctionID           string `json:"function_id"`
	ExpiryTime           string `json:"expiry_time"`
	LastExecutionAttempt string `json:"last_execution_attempt,omitempty"`
	ExecutionCount       int    `json:"execution_count"`
	Mode                 Mode   `json:"mode"`
	// Stale is set when the service could not be reached and the local copy was returned
	Stale bool `json:"stale,omitempty"`
}

// Simulation is the estimated cost of a task
type Simulation struct {
	Success      bool     `json:"success"`
	EstimatedGas uint64   `json:"estimatedGas"`
	EstimatedFee uint64   `json:"estimatedFee"`
	Errors       []string `json:"errors,omitempty"`
	Fallback     bool     `json:"fallback"`
}

type simulateResponse struct {
	Success      *bool    `json:"success"`
	EstimatedGas uint64   `json:"estimated_gas"`
	EstimatedFee uint64   `json:"estimated_fee"`
	Errors       []string `json:"errors"`
}

// TradeSimulation is the combined simulation of a TP/SL pair
type TradeSimulation struct {
	TakeProfit        Simulation `json:"takeProfit"`
	StopLoss          Simulation `json:"stopLoss"`
	TotalEstimatedGas uint64     `json:"totalEstimatedGas"`
	TotalEstimatedFee uint64     `json:"totalEstimatedFee"`
}

// Health is the result of a service health check
type Health struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}
