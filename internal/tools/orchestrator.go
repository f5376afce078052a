package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tweetyapp/voiced/internal/history"
	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/policy"
	"github.com/tweetyapp/voiced/internal/realtime"
)

const DefaultTimeout = 30 * time.Second

var ErrNotPending = errors.New("tool call is not awaiting confirmation")

// Status is a tool call lifecycle state.
type Status = history.Status

// Call is one model-requested tool invocation.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments string         `json:"arguments"`
	ItemID    string         `json:"item_id,omitempty"`
	Status    Status         `json:"status"`
	Params    map[string]any `json:"-"`
	Result    *Result        `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Responder is the slice of the realtime adapter the orchestrator talks to.
type Responder interface {
	SendToolOutput(ctx context.Context, callID, output string, success bool) error
	CreateResponse(ctx context.Context) error
}

// Gate decides whether a call may run.
type Gate interface {
	Decide(ctx context.Context, userID, tool, arguments string) policy.Verdict
}

type completionKind int

const (
	completionDecision completionKind = iota + 1
	completionExecution
)

// Completion is posted by a worker goroutine and must be handed back to
// Apply on the goroutine that owns the orchestrator.
type Completion struct {
	CallID   string
	kind     completionKind
	approved bool
	result   Result
	err      error
	started  time.Time
}

// Config wires an orchestrator. OnUpdate, when set, observes every status
// change on the owning goroutine.
type Config struct {
	SessionID string
	UserID    string
	Gate      Gate
	Confirmer Confirmer
	Executor  Executor
	Previewer *Previewer
	History   *history.Log
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	OnUpdate  func(Call)
}

// Orchestrator gates, executes and answers tool calls for one session.
// Handle, Apply, Resolve and Shutdown must be called from a single
// goroutine; confirmation waits and executions run on workers that report
// back through Completions.
type Orchestrator struct {
	cfg    Config
	out    Responder
	logger *slog.Logger

	calls   map[string]*Call
	order   []string
	waiters map[string]context.CancelFunc
	running map[string]context.CancelFunc
	closed  bool

	completions chan Completion
	root        context.Context
	cancelRoot  context.CancelFunc
	stopped     chan struct{}
	wg          sync.WaitGroup
	now         func() time.Time
}

func NewOrchestrator(cfg Config, out Responder) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = policy.NewEvaluator(DefaultPolicy(Catalog()), policy.EvaluatorOptions{Logger: cfg.Logger})
	}
	if cfg.History == nil {
		cfg.History = history.NewLog(nil, cfg.Logger)
	}
	if cfg.Previewer == nil {
		cfg.Previewer = NewPreviewer(cfg.Executor)
	}
	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:         cfg,
		out:         out,
		logger:      cfg.Logger.With("session_id", cfg.SessionID),
		calls:       make(map[string]*Call),
		waiters:     make(map[string]context.CancelFunc),
		running:     make(map[string]context.CancelFunc),
		completions: make(chan Completion, 16),
		root:        root,
		cancelRoot:  cancel,
		stopped:     make(chan struct{}),
		now:         time.Now,
	}
}

// Completions delivers worker results to the owning goroutine.
func (o *Orchestrator) Completions() <-chan Completion {
	return o.completions
}

// Handle accepts a completed function call from the model. Replays of a
// known call id are ignored.
func (o *Orchestrator) Handle(ctx context.Context, req realtime.ToolCallRequest) {
	if o.closed {
		o.logger.Warn("tool call after shutdown ignored", "call_id", req.CallID, "tool", req.Name)
		return
	}
	if _, ok := o.calls[req.CallID]; ok {
		o.logger.Debug("duplicate tool call ignored", "call_id", req.CallID, "tool", req.Name)
		o.cfg.Metrics.ObserveSessionEvent("tool_call_duplicate")
		return
	}

	now := o.now()
	call := &Call{
		ID:        req.CallID,
		Name:      req.Name,
		Arguments: req.Arguments,
		ItemID:    req.ItemID,
		Status:    history.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.calls[call.ID] = call
	o.order = append(o.order, call.ID)
	o.record(ctx, call, nil)
	o.notify(call)

	params, err := parseArguments(req.Arguments)
	if err != nil {
		o.reject(ctx, call, CodeInvalidArguments, err.Error(), true)
		return
	}
	call.Params = params

	if IsMetaTool(call.Name) {
		o.handleMeta(ctx, call)
		return
	}

	verdict := o.cfg.Gate.Decide(ctx, o.cfg.UserID, call.Name, call.Arguments)
	switch verdict.Decision {
	case policy.DecisionAllow:
		o.approve(ctx, call)
	case policy.DecisionBlock:
		o.logger.Info("tool call blocked by policy", "call_id", call.ID, "tool", call.Name, "reason", verdict.Reason)
		o.reject(ctx, call, CodePolicyBlocked, "Blocked by policy: "+verdict.Reason, false)
	default:
		o.awaitConfirmation(ctx, call, verdict.Risk)
	}
}

// Resolve answers a call awaiting confirmation from outside the model,
// e.g. a button press.
func (o *Orchestrator) Resolve(ctx context.Context, callID string, approved bool) error {
	call, ok := o.calls[callID]
	if !ok {
		return ErrUnknownCall
	}
	if call.Status != history.StatusPending || IsMetaTool(call.Name) {
		return ErrNotPending
	}
	o.settle(ctx, call, approved)
	return nil
}

// Apply consumes one worker completion. Stale completions for calls that
// already moved on are dropped.
func (o *Orchestrator) Apply(ctx context.Context, c Completion) {
	if o.closed {
		return
	}
	call, ok := o.calls[c.CallID]
	if !ok {
		return
	}

	switch c.kind {
	case completionDecision:
		if call.Status != history.StatusPending {
			return
		}
		o.cfg.Metrics.ObserveConfirmationWait(o.now().Sub(c.started))
		o.dropWaiter(call.ID)
		if c.err != nil {
			o.logger.Warn("confirmation failed", "call_id", call.ID, "tool", call.Name, "error", c.err)
			o.reject(ctx, call, CodeCancelled, "Confirmation was not completed", false)
			return
		}
		o.settle(ctx, call, c.approved)
	case completionExecution:
		if call.Status != history.StatusApproved {
			return
		}
		if cancel, ok := o.running[call.ID]; ok {
			cancel()
			delete(o.running, call.ID)
		}
		res := c.result
		if c.err != nil {
			var execErr *ExecutionError
			res, execErr = failureResult(call.ID, call.Name, c.err)
			o.logger.Warn("tool execution failed", "call_id", call.ID, "tool", call.Name, "code", execErr.Code, "error", execErr.Err)
		}
		res.ID = call.ID
		res.ToolName = call.Name
		o.finish(ctx, call, res, c.started, true)
	}
}

// Shutdown force-rejects calls awaiting confirmation, answers in-flight
// executions as cancelled, and waits for workers to exit or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if o.closed {
		return
	}
	for _, id := range o.order {
		call := o.calls[id]
		switch call.Status {
		case history.StatusPending:
			o.dropWaiter(id)
			o.reject(ctx, call, CodeCancelled, "Session ended before confirmation", false)
		case history.StatusApproved:
			if cancel, ok := o.running[id]; ok {
				cancel()
				delete(o.running, id)
			}
			o.finish(ctx, call, Failure(call.ID, call.Name, CodeCancelled, "Session ended during execution", 0), time.Time{}, false)
		}
	}
	o.closed = true
	o.cancelRoot()
	close(o.stopped)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("tool workers still running at shutdown")
	}
}

// Calls returns a snapshot in arrival order.
func (o *Orchestrator) Calls() []Call {
	out := make([]Call, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.calls[id])
	}
	return out
}

// Pending lists calls awaiting confirmation.
func (o *Orchestrator) Pending() []string {
	var out []string
	for _, id := range o.order {
		if c := o.calls[id]; c.Status == history.StatusPending && !IsMetaTool(c.Name) {
			out = append(out, id)
		}
	}
	return out
}

// handleMeta runs confirm_action and cancel_action. Once confirmed, the
// target's own answer requests the follow-up turn, so the meta answer does
// not.
func (o *Orchestrator) handleMeta(ctx context.Context, call *Call) {
	o.transition(ctx, call, history.StatusApproved, nil)
	targetID, _ := call.Params["tool_call_id"].(string)
	target, ok := o.calls[targetID]
	if targetID == "" {
		o.finish(ctx, call, Failure(call.ID, call.Name, CodeMissingParam, "tool_call_id is required", 0), time.Time{}, true)
		return
	}
	if !ok || target.Status != history.StatusPending || IsMetaTool(target.Name) {
		o.finish(ctx, call, Failure(call.ID, call.Name, CodeUnknownCall, fmt.Sprintf("No pending action with id %s", targetID), 0), time.Time{}, true)
		return
	}

	approved := call.Name == ConfirmAction
	o.dropWaiter(target.ID)
	o.settle(ctx, target, approved)

	outcome := "cancelled"
	if approved {
		outcome = "confirmed"
	}
	body, _ := json.Marshal(map[string]string{"tool_call_id": target.ID, "tool": target.Name, "outcome": outcome})
	o.finish(ctx, call, Success(call.ID, call.Name, string(body), 0), time.Time{}, !approved)
}

func (o *Orchestrator) settle(ctx context.Context, call *Call, approved bool) {
	o.dropWaiter(call.ID)
	if approved {
		o.approve(ctx, call)
		return
	}
	o.reject(ctx, call, CodeUserRejected, "User cancelled the action", false)
}

func (o *Orchestrator) awaitConfirmation(ctx context.Context, call *Call, risk string) {
	if o.cfg.Confirmer == nil {
		o.reject(ctx, call, CodeUserRejected, "No confirmation channel available", false)
		return
	}
	wctx, cancel := context.WithCancel(o.root)
	o.waiters[call.ID] = cancel

	id, name, args, params := call.ID, call.Name, call.Arguments, call.Params
	started := o.now()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		title, content := o.cfg.Previewer.Preview(wctx, name, params)
		approved, err := o.cfg.Confirmer.RequestConfirmation(wctx, Confirmation{
			CallID:      id,
			Tool:        name,
			Title:       title,
			Content:     content,
			Risk:        risk,
			Arguments:   redactedParams(args),
			RequestedAt: started,
		})
		o.post(Completion{CallID: id, kind: completionDecision, approved: approved, err: err, started: started})
	}()
}

func (o *Orchestrator) approve(ctx context.Context, call *Call) {
	o.transition(ctx, call, history.StatusApproved, nil)
	if o.cfg.Executor == nil {
		o.finish(ctx, call, Failure(call.ID, call.Name, CodeNotImplemented, "No executor configured", 0), time.Time{}, true)
		return
	}

	ectx, cancel := context.WithTimeout(o.root, o.cfg.Timeout)
	o.running[call.ID] = cancel

	id, name, params := call.ID, call.Name, call.Params
	started := o.now()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res, err := o.cfg.Executor.Execute(ectx, name, params)
		if err == nil && ectx.Err() != nil {
			err = ectx.Err()
		}
		o.post(Completion{CallID: id, kind: completionExecution, result: res, err: err, started: started})
	}()
}

// reject ends a call that never ran. respond asks the model for a
// follow-up turn.
func (o *Orchestrator) reject(ctx context.Context, call *Call, code ErrorCode, message string, respond bool) {
	res := Failure(call.ID, call.Name, code, message, 0)
	call.Result = &res
	o.transition(ctx, call, history.StatusRejected, &res)
	o.cfg.Metrics.ObserveToolOutcome(call.Name, "rejected", 0)
	o.answer(ctx, call, res, respond)
}

// finish moves call to a terminal execution state and answers it. respond
// asks the model for a follow-up turn.
func (o *Orchestrator) finish(ctx context.Context, call *Call, res Result, started time.Time, respond bool) {
	status := history.StatusSucceeded
	outcome := "success"
	if !res.Success {
		status = history.StatusFailed
		outcome = "failure"
	}
	call.Result = &res
	o.transition(ctx, call, status, &res)
	var latency time.Duration
	if !started.IsZero() {
		latency = o.now().Sub(started)
	}
	o.cfg.Metrics.ObserveToolOutcome(call.Name, outcome, latency)
	o.answer(ctx, call, res, respond)
}

func (o *Orchestrator) answer(ctx context.Context, call *Call, res Result, respond bool) {
	if o.out == nil {
		return
	}
	if err := o.out.SendToolOutput(ctx, call.ID, res.JSON(), res.Success); err != nil {
		o.logger.Warn("send tool output failed", "call_id", call.ID, "tool", call.Name, "error", err)
		return
	}
	if !respond {
		return
	}
	if err := o.out.CreateResponse(ctx); err != nil {
		o.logger.Warn("create response after tool output failed", "call_id", call.ID, "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, call *Call, status Status, res *Result) {
	call.Status = status
	call.UpdatedAt = o.now()
	o.record(ctx, call, res)
	o.notify(call)
}

func (o *Orchestrator) record(ctx context.Context, call *Call, res *Result) {
	entry := history.Entry{
		SessionID: o.cfg.SessionID,
		UserID:    o.cfg.UserID,
		CallID:    call.ID,
		Tool:      call.Name,
		Status:    call.Status,
		CreatedAt: call.UpdatedAt.UTC(),
	}
	if call.Status == history.StatusPending {
		entry.Arguments, _ = policy.RedactPII(call.Arguments)
	}
	if res != nil {
		entry.Response, _ = policy.RedactPII(res.Response)
		if res.Error != nil {
			entry.ErrorCode = string(res.Error.Code)
			entry.ErrorMessage = res.Error.Message
		}
	}
	if _, err := o.cfg.History.Record(ctx, entry); err != nil {
		o.logger.Warn("history record failed", "call_id", call.ID, "status", call.Status, "error", err)
	}
}

func (o *Orchestrator) notify(call *Call) {
	if o.cfg.OnUpdate != nil {
		o.cfg.OnUpdate(*call)
	}
}

func (o *Orchestrator) dropWaiter(id string) {
	if cancel, ok := o.waiters[id]; ok {
		cancel()
		delete(o.waiters, id)
	}
}

func (o *Orchestrator) post(c Completion) {
	select {
	case o.completions <- c:
	case <-o.stopped:
	}
}

func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

func redactedParams(raw string) map[string]any {
	clean, _ := policy.RedactPII(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return nil
	}
	return out
}
