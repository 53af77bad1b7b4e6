package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrMissingAPIKey is returned when the automation API key is not configured
var ErrMissingAPIKey = errors.New("automation API key not configured")

const (
	DefaultBaseURL       = "https://rpc-mainnet.supra.com"
	DefaultModuleAddress = "0x1"

	defaultGasAmount     = 50000
	defaultGasPriceCap   = 200
	defaultAutomationFee = 10000
	minSimulatedGas      = 10000

	taskDuration = 48 * time.Hour
	expiryBuffer = time.Hour
)

// Config configures a Client
type Config struct {
	BaseURL       string
	APIKey        string
	ModuleAddress string
	AllowFallback bool
	Timeout       time.Duration
}

// Client talks to the TP/SL automation REST service
type Client struct {
	baseURL       string
	apiKey        string
	module        string
	allowFallback bool
	httpClient    *http.Client
	registry      *Registry
	log           *zap.SugaredLogger
	now           func() time.Time
}

// NewClient creates an automation client backed by registry
func NewClient(cfg Config, registry *Registry, log *zap.SugaredLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ModuleAddress == "" {
		cfg.ModuleAddress = DefaultModuleAddress
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		module:        cfg.ModuleAddress,
		allowFallback: cfg.AllowFallback,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		registry:      registry,
		log:           log,
		now:           time.Now,
	}
}

// Registry returns the client's task registry
func (c *Client) Registry() *Registry {
	return c.registry
}

func (c *Client) functionID(kind Kind) string {
	switch kind {
	case KindTakeProfit:
		return c.module + "::trade_automation::execute_take_profit"
	default:
		return c.module + "::trade_automation::execute_stop_loss"
	}
}

// BuildRequest creates the task request for one side of a trade
func (c *Client) BuildRequest(kind Kind, params TradeParams) TaskRequest {
	target := params.TakeProfitPrice
	if kind == KindStopLoss {
		target = params.StopLossPrice
	}

	bps := decimal.NewFromFloat(params.SlippagePercent).Mul(decimal.NewFromInt(100))
	expiry := c.now().Add(taskDuration + expiryBuffer).Unix()

	return TaskRequest{
		TargetEntryFunction: c.functionID(kind),
		Args: map[string]string{
			"trader":             params.Wallet,
			"token_pair":         params.TokenPair,
			"target_price":       target.String(),
			"trade_amount":       params.TradeAmount.String(),
			"slippage_tolerance": bps.String(),
		},
		ExpiryTime:       strconv.FormatInt(expiry, 10),
		MaxGasAmount:     defaultGasAmount,
		GasPriceCap:      defaultGasPriceCap,
		AutomationFeeCap: defaultAutomationFee,
	}
}

// RegisterTakeProfit registers the take-profit side of a trade
func (c *Client) RegisterTakeProfit(ctx context.Context, params TradeParams) (TaskRef, error) {
	ref, err := c.submit(ctx, KindTakeProfit, c.BuildRequest(KindTakeProfit, params))
	if err != nil {
		return TaskRef{}, fmt.Errorf("take profit automation failed: %w", err)
	}
	return ref, nil
}

// RegisterStopLoss registers the stop-loss side of a trade
func (c *Client) RegisterStopLoss(ctx context.Context, params TradeParams) (TaskRef, error) {
	ref, err := c.submit(ctx, KindStopLoss, c.BuildRequest(KindStopLoss, params))
	if err != nil {
		return TaskRef{}, fmt.Errorf("stop loss automation failed: %w", err)
	}
	return ref, nil
}

// RegisterTrade simulates then registers both tasks for a trade.
// Simulation warnings are logged and never block registration.
func (c *Client) RegisterTrade(ctx context.Context, params TradeParams) (*Registration, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c.log.Infow("Registering trade automation", "pair", params.TokenPair, "wallet", params.Wallet)

	sim, err := c.SimulateTrade(ctx, params)
	if err != nil {
		return nil, err
	}
	if !sim.TakeProfit.Success {
		c.log.Warnw("Take profit simulation warnings", "errors", sim.TakeProfit.Errors)
	}
	if !sim.StopLoss.Success {
		c.log.Warnw("Stop loss simulation warnings", "errors", sim.StopLoss.Errors)
	}
	c.log.Debugw("Estimated automation costs",
		"gas", sim.TotalEstimatedGas,
		"fee", sim.TotalEstimatedFee)

	var tp, sl TaskRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tp, err = c.RegisterTakeProfit(gctx, params)
		return err
	})
	g.Go(func() error {
		var err error
		sl, err = c.RegisterStopLoss(gctx, params)
		return err
	})

	if err := g.Wait(); err != nil {
		// Do not leave half a pair behind
		for _, ref := range []TaskRef{tp, sl} {
			if ref.ID != "" {
				if cerr := c.Cancel(context.WithoutCancel(ctx), ref); cerr != nil {
					c.log.Warnw("Failed to cancel orphaned task", "task", ref.ID, "error", cerr)
				}
			}
		}
		return nil, err
	}

	reg := &Registration{
		TakeProfit:   tp,
		StopLoss:     sl,
		RegisteredAt: c.now().UTC(),
	}

	c.log.Infow("Trade automation registered",
		"takeProfit", tp.ID,
		"stopLoss", sl.ID,
		"degraded", reg.Degraded())

	return reg, nil
}

func (c *Client) submit(ctx context.Context, kind Kind, req TaskRequest) (TaskRef, error) {
	if c.apiKey == "" {
		return TaskRef{}, ErrMissingAPIKey
	}

	var resp registerResponse
	err := c.do(ctx, http.MethodPost, "/automation/register", req, &resp)
	if err != nil {
		if c.allowFallback && isTransportError(ctx, err) {
			return c.fallbackTask(kind, req, err), nil
		}
		return TaskRef{}, err
	}

	if resp.TaskID == "" {
		return TaskRef{}, fmt.Errorf("no task_id returned from automation service")
	}

	ref := TaskRef{
		ID:         resp.TaskID,
		Kind:       kind,
		Mode:       ModeRegistered,
		FunctionID: req.TargetEntryFunction,
		ExpiryTime: req.ExpiryTime,
	}
	c.track(ref)

	c.log.Infow("Automation task registered", "kind", kind, "task", ref.ID)
	return ref, nil
}

// fallbackTask creates a task that only exists locally, tagged so callers can tell
func (c *Client) fallbackTask(kind Kind, req TaskRequest, cause error) TaskRef {
	ref := TaskRef{
		ID:         fmt.Sprintf("local-%s-%s", kind, uuid.New().String()),
		Kind:       kind,
		Mode:       ModeSimulatedFallback,
		FunctionID: req.TargetEntryFunction,
		ExpiryTime: req.ExpiryTime,
	}
	c.track(ref)

	c.log.Warnw("Automation service unreachable, created local fallback task",
		"kind", kind,
		"task", ref.ID,
		"error", cause)
	return ref
}

func (c *Client) track(ref TaskRef) {
	c.registry.Put(TaskStatus{
		ID:         ref.ID,
		Status:     StatusActive,
		FunctionID: ref.FunctionID,
		ExpiryTime: ref.ExpiryTime,
		Mode:       ref.Mode,
	})
}

// Status fetches a task's status, falling back to the last known local copy
func (c *Client) Status(ctx context.Context, ref TaskRef) (*TaskStatus, error) {
	local, known := c.registry.Get(ref.ID)

	if ref.IsFallback() {
		if !known {
			local = TaskStatus{ID: ref.ID, Status: StatusActive, FunctionID: ref.FunctionID, ExpiryTime: ref.ExpiryTime, Mode: ModeSimulatedFallback}
			c.registry.Put(local)
		}
		return &local, nil
	}

	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	var remote TaskStatus
	err := c.do(ctx, http.MethodGet, "/automation/status/"+url.PathEscape(ref.ID), nil, &remote)
	if err != nil {
		if known {
			c.log.Debugw("Using cached task status", "task", ref.ID, "error", err)
			local.Stale = true
			return &local, nil
		}
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	remote.ID = ref.ID
	remote.Mode = ModeRegistered
	if remote.Status == "" {
		remote.Status = StatusActive
	}
	if remote.FunctionID == "" {
		remote.FunctionID = ref.FunctionID
	}
	c.registry.Put(remote)

	return &remote, nil
}

// Cancel cancels a task. Fallback tasks are cancelled locally.
func (c *Client) Cancel(ctx context.Context, ref TaskRef) error {
	if ref.IsFallback() {
		if !c.registry.SetStatus(ref.ID, StatusCancelled) {
			c.registry.Put(TaskStatus{ID: ref.ID, Status: StatusCancelled, FunctionID: ref.FunctionID, Mode: ModeSimulatedFallback})
		}
		return nil
	}

	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	if err := c.do(ctx, http.MethodPost, "/automation/cancel/"+url.PathEscape(ref.ID), nil, nil); err != nil {
		return fmt.Errorf("task cancellation failed: %w", err)
	}

	c.registry.SetStatus(ref.ID, StatusCancelled)
	c.log.Infow("Automation task cancelled", "task", ref.ID)
	return nil
}

// Simulate estimates the cost of a task. An unavailable simulation
// endpoint yields local sanity checks instead of an error.
func (c *Client) Simulate(ctx context.Context, req TaskRequest) Simulation {
	if c.apiKey == "" {
		return c.fallbackSimulation(req)
	}

	req.Simulate = true

	var resp simulateResponse
	if err := c.do(ctx, http.MethodPost, "/automation/simulate", req, &resp); err != nil {
		c.log.Debugw("Simulation unavailable, using local estimation", "error", err)
		return c.fallbackSimulation(req)
	}

	sim := Simulation{
		Success:      resp.Success == nil || *resp.Success,
		EstimatedGas: resp.EstimatedGas,
		EstimatedFee: resp.EstimatedFee,
		Errors:       resp.Errors,
	}
	if sim.EstimatedGas == 0 {
		sim.EstimatedGas = req.MaxGasAmount
	}
	if sim.EstimatedFee == 0 {
		sim.EstimatedFee = req.AutomationFeeCap
	}
	return sim
}

func (c *Client) fallbackSimulation(req TaskRequest) Simulation {
	var errs []string

	if !strings.Contains(req.TargetEntryFunction, "::") {
		errs = append(errs, "invalid function ID format")
	}
	if req.MaxGasAmount < minSimulatedGas {
		errs = append(errs, "gas amount may be too low")
	}
	expiry, err := strconv.ParseInt(req.ExpiryTime, 10, 64)
	if err != nil || expiry <= c.now().Unix() {
		errs = append(errs, "task expiry time is in the past")
	}

	return Simulation{
		Success:      len(errs) == 0,
		EstimatedGas: req.MaxGasAmount,
		EstimatedFee: req.AutomationFeeCap,
		Errors:       errs,
		Fallback:     true,
	}
}

// SimulateTrade simulates both tasks of a trade concurrently
func (c *Client) SimulateTrade(ctx context.Context, params TradeParams) (*TradeSimulation, error) {
	var tp, sl Simulation

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tp = c.Simulate(gctx, c.BuildRequest(KindTakeProfit, params))
		return nil
	})
	g.Go(func() error {
		sl = c.Simulate(gctx, c.BuildRequest(KindStopLoss, params))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &TradeSimulation{
		TakeProfit:        tp,
		StopLoss:          sl,
		TotalEstimatedGas: tp.EstimatedGas + sl.EstimatedGas,
		TotalEstimatedFee: tp.EstimatedFee + sl.EstimatedFee,
	}, nil
}

// HealthCheck reports whether the automation service answers
func (c *Client) HealthCheck(ctx context.Context) Health {
	if c.apiKey == "" {
		return Health{Healthy: false, Message: ErrMissingAPIKey.Error()}
	}

	if err := c.do(ctx, http.MethodGet, "/automation/config", nil, nil); err != nil {
		return Health{Healthy: false, Message: fmt.Sprintf("automation health check failed: %v", err)}
	}
	return Health{Healthy: true, Message: "automation service is accessible"}
}

// statusError is a non-2xx response from the service
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("automation API error: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("automation API error: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil || method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// isTransportError reports whether err means the service could not be reached,
// as opposed to the service answering with an error or the caller giving up.
func isTransportError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
