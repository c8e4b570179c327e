package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/pkg/models"
)

// persistTimeout bounds terminal-state writes, which must not use the run
// context because it may already be cancelled or expired.
const persistTimeout = 5 * time.Second

// publishRun emits a copy of the run snapshot. The run goroutine keeps
// mutating the live struct after the event is queued; subscribers must
// never observe those writes.
func publishRun(lr *liveRun, name string, run *models.Run) {
	snap := *run
	lr.bus.Publish(name, &snap)
}

func publishMessage(lr *liveRun, name string, msg *models.Message) {
	snap := *msg
	lr.bus.Publish(name, &snap)
}

// execute drives one run from queued to a terminal status.
func (e *Engine) execute(lr *liveRun) {
	defer e.release(lr.run.ID)
	run := lr.run
	ctx := lr.ctx

	publishRun(lr, models.EventRunCreated, run)
	publishRun(lr, models.EventRunQueued, run)

	now := time.Now().Unix()
	run.Status = models.RunStatusInProgress
	run.StartedAt = &now
	if err := e.persistRun(run); err != nil {
		e.finishFailed(lr, run, err)
		return
	}
	publishRun(lr, models.EventRunInProgress, run)

	for iteration := 0; ; iteration++ {
		if e.halted(ctx, lr, run) {
			return
		}
		if iteration >= e.cfg.MaxIterations {
			e.finishIncomplete(lr, run, models.IncompleteReasonMaxIterations)
			return
		}

		req, err := e.buildRequest(ctx, run)
		if err != nil {
			e.failOrHalt(ctx, lr, run, err)
			return
		}
		if run.MaxPromptTokens != nil && provider.EstimateRequestTokens(req) > *run.MaxPromptTokens {
			e.finishIncomplete(lr, run, models.IncompleteReasonMaxPromptTokens)
			return
		}
		if run.MaxCompletionTokens != nil {
			remaining := *run.MaxCompletionTokens
			if run.Usage != nil {
				remaining -= run.Usage.CompletionTokens
			}
			if remaining <= 0 {
				e.finishIncomplete(lr, run, models.IncompleteReasonMaxCompletionTokens)
				return
			}
			req.MaxTokens = remaining
		}

		prov, upstream, err := e.providers.Resolve(run.Model)
		if err != nil {
			// Resolution is validated at run creation; reaching this means
			// the provider set changed underneath a queued run.
			e.finishFailedCode(lr, run, models.RunErrorCodeServerError, err.Error())
			return
		}
		req.Model = upstream

		chunks, err := prov.Complete(ctx, req)
		if err != nil {
			e.metrics.ProviderRequests.WithLabelValues(prov.Name(), "error").Inc()
			e.failOrHalt(ctx, lr, run, err)
			return
		}

		msg := e.newAssistantMessage(run)
		if err := e.store.CreateMessage(ctx, msg); err != nil {
			e.failOrHalt(ctx, lr, run, err)
			return
		}
		publishMessage(lr, models.EventMessageCreated, msg)
		publishMessage(lr, models.EventMessageInProgress, msg)

		resp, err := provider.Collect(ctx, chunks, func(c provider.Chunk) {
			if c.Text == "" {
				return
			}
			lr.bus.Publish(models.EventMessageDelta, models.MessageDelta{
				ID:     msg.ID,
				Object: models.ObjectMessageDelta,
				Delta: models.MessageDeltaBody{
					Content: []models.MessageDeltaContent{{
						Index: 0,
						Type:  "text",
						Text:  &models.TextDelta{Value: c.Text},
					}},
				},
			})
		})
		if err != nil {
			e.metrics.ProviderRequests.WithLabelValues(prov.Name(), "error").Inc()
			e.abandonMessage(msg)
			e.failOrHalt(ctx, lr, run, err)
			return
		}
		e.metrics.ProviderRequests.WithLabelValues(prov.Name(), "ok").Inc()
		e.accumulateUsage(run, prov.Name(), req, resp)

		msg.Content = models.NewTextContent(resp.Content)
		msg.ToolCalls = resp.ToolCalls
		completedAt := time.Now().Unix()
		msg.Status = models.MessageStatusCompleted
		msg.CompletedAt = &completedAt
		if err := e.store.UpdateMessage(ctx, msg); err != nil {
			e.failOrHalt(ctx, lr, run, err)
			return
		}
		publishMessage(lr, models.EventMessageCompleted, msg)

		switch resp.FinishReason {
		case provider.FinishLength:
			e.finishIncomplete(lr, run, models.IncompleteReasonMaxCompletionTokens)
			return

		case provider.FinishToolCalls:
			external, err := e.resolveToolCalls(ctx, run, resp.ToolCalls)
			if err != nil {
				e.failOrHalt(ctx, lr, run, err)
				return
			}
			if len(external) > 0 {
				if !e.awaitToolOutputs(ctx, lr, run, external) {
					return
				}
			}

		default:
			e.finishCompleted(lr, run)
			return
		}
	}
}

// buildRequest assembles the provider request from the run snapshot and
// the thread transcript in ascending order.
func (e *Engine) buildRequest(ctx context.Context, run *models.Run) (*provider.ChatRequest, error) {
	transcript, err := e.threadMessages(ctx, run.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread messages: %w", err)
	}

	req := &provider.ChatRequest{
		Model:          run.Model,
		System:         run.Instructions,
		Temperature:    run.Temperature,
		TopP:           run.TopP,
		ToolChoice:     run.ToolChoice,
		ResponseFormat: run.ResponseFormat,
	}
	parallel := run.ParallelToolCalls
	req.ParallelToolCalls = &parallel

	for _, m := range transcript {
		if m.Status == models.MessageStatusInProgress {
			continue
		}
		switch m.Role {
		case models.MessageRoleTool:
			req.Messages = append(req.Messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    m.TextValue(),
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
			})
		case models.MessageRoleAssistant:
			req.Messages = append(req.Messages, provider.Message{
				Role:      provider.RoleAssistant,
				Content:   m.TextValue(),
				ToolCalls: m.ToolCalls,
			})
		default:
			req.Messages = append(req.Messages, provider.Message{
				Role:    provider.RoleUser,
				Content: m.TextValue(),
			})
		}
	}

	for _, t := range run.Tools {
		if t.Type != "function" || t.Function == nil {
			continue
		}
		req.Tools = append(req.Tools, provider.ToolDef{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return req, nil
}

func (e *Engine) threadMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	var all []*models.Message
	page := store.Page{Limit: 100, Order: "asc"}
	for {
		msgs, hasMore, err := e.store.ListMessages(ctx, threadID, page)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
		if !hasMore || len(msgs) == 0 {
			return all, nil
		}
		page.After = msgs[len(msgs)-1].ID
	}
}

// resolveToolCalls executes in-process tools and appends their result
// messages in the order of the original calls. Calls to tools the run
// declared but the registry does not hold are returned for external
// resolution; calls to undeclared names resolve to an error payload so
// the next turn can recover.
func (e *Engine) resolveToolCalls(ctx context.Context, run *models.Run, calls []models.ToolCall) ([]models.ToolCall, error) {
	declared := make(map[string]bool, len(run.Tools))
	for _, t := range run.Tools {
		if t.Type == "function" && t.Function != nil {
			declared[t.Function.Name] = true
		}
	}

	outputs := make(map[string]string, len(calls))
	var external []models.ToolCall
	var executable []models.ToolCall

	for _, tc := range calls {
		name := tc.Function.Name
		switch {
		case !declared[name]:
			outputs[tc.ID] = fmt.Sprintf(`{"error":"Tool not found: %s"}`, name)
		default:
			if _, ok := e.tools.Get(name); ok {
				executable = append(executable, tc)
			} else {
				external = append(external, tc)
			}
		}
	}

	if run.ParallelToolCalls && len(executable) > 1 {
		results := make([]string, len(executable))
		done := make(chan int, len(executable))
		for i, tc := range executable {
			go func(i int, tc models.ToolCall) {
				results[i] = e.runTool(ctx, run, tc)
				done <- i
			}(i, tc)
		}
		for range executable {
			<-done
		}
		for i, tc := range executable {
			outputs[tc.ID] = results[i]
		}
	} else {
		for _, tc := range executable {
			outputs[tc.ID] = e.runTool(ctx, run, tc)
		}
	}

	for _, tc := range calls {
		out, ok := outputs[tc.ID]
		if !ok {
			continue // external, resolved later
		}
		if err := e.appendToolMessage(ctx, run, tc, out); err != nil {
			return nil, err
		}
	}
	return external, nil
}

func (e *Engine) runTool(ctx context.Context, run *models.Run, tc models.ToolCall) string {
	tool, ok := e.tools.Get(tc.Function.Name)
	if !ok {
		return fmt.Sprintf(`{"error":"Tool not found: %s"}`, tc.Function.Name)
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()
	tctx = WithExecInfo(tctx, ExecInfo{AssistantID: run.AssistantID, RunID: run.ID})

	args := tc.Function.Arguments
	if args == "" {
		args = "{}"
	}
	out, err := tool.Execute(tctx, json.RawMessage(args))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return `{"error":"timed out"}`
		}
		payload, merr := json.Marshal(map[string]string{"error": err.Error()})
		if merr != nil {
			return `{"error":"tool execution failed"}`
		}
		return string(payload)
	}
	return out
}

func (e *Engine) appendToolMessage(ctx context.Context, run *models.Run, tc models.ToolCall, output string) error {
	now := time.Now().Unix()
	msg := &models.Message{
		ID:          models.NewID(models.PrefixMessage),
		Object:      models.ObjectMessage,
		CreatedAt:   now,
		ThreadID:    run.ThreadID,
		Status:      models.MessageStatusCompleted,
		CompletedAt: &now,
		Role:        models.MessageRoleTool,
		Content:     models.NewTextContent(output),
		AssistantID: &run.AssistantID,
		RunID:       &run.ID,
		Attachments: []models.Attachment{},
		Metadata:    map[string]string{},
		ToolCallID:  tc.ID,
		ToolName:    tc.Function.Name,
	}
	return e.store.CreateMessage(ctx, msg)
}

// awaitToolOutputs parks the run in requires_action until submission,
// cancellation, or expiry. Returns true when the run resumed.
func (e *Engine) awaitToolOutputs(ctx context.Context, lr *liveRun, run *models.Run, outstanding []models.ToolCall) bool {
	run.Status = models.RunStatusRequiresAction
	run.RequiredAction = &models.RequiredAction{
		Type:              "submit_tool_outputs",
		SubmitToolOutputs: &models.SubmitToolOutputs{ToolCalls: outstanding},
	}
	if err := e.persistRun(run); err != nil {
		e.finishFailed(lr, run, err)
		return false
	}
	publishRun(lr, models.EventRunRequiresAction, run)

	select {
	case outputs := <-lr.submitCh:
		byID := make(map[string]string, len(outputs))
		for _, out := range outputs {
			byID[out.ToolCallID] = out.Output
		}
		for _, tc := range outstanding {
			if err := e.appendToolMessage(ctx, run, tc, byID[tc.ID]); err != nil {
				e.failOrHalt(ctx, lr, run, err)
				return false
			}
		}
		run.Status = models.RunStatusInProgress
		run.RequiredAction = nil
		if err := e.persistRun(run); err != nil {
			e.finishFailed(lr, run, err)
			return false
		}
		publishRun(lr, models.EventRunInProgress, run)
		return true

	case <-lr.cancelCh:
		e.finishCancelled(lr, run)
		return false

	case <-ctx.Done():
		if lr.cancelRequested.Load() {
			e.finishCancelled(lr, run)
		} else {
			e.finishExpired(lr, run)
		}
		return false
	}
}

func (e *Engine) newAssistantMessage(run *models.Run) *models.Message {
	return &models.Message{
		ID:          models.NewID(models.PrefixMessage),
		Object:      models.ObjectMessage,
		CreatedAt:   time.Now().Unix(),
		ThreadID:    run.ThreadID,
		Status:      models.MessageStatusInProgress,
		Role:        models.MessageRoleAssistant,
		Content:     []models.MessageContent{},
		AssistantID: &run.AssistantID,
		RunID:       &run.ID,
		Attachments: []models.Attachment{},
		Metadata:    map[string]string{},
	}
}

// abandonMessage marks a streaming placeholder incomplete after the
// provider call failed mid-flight.
func (e *Engine) abandonMessage(msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	now := time.Now().Unix()
	msg.Status = models.MessageStatusIncomplete
	msg.IncompleteAt = &now
	msg.IncompleteDetails = &models.IncompleteDetails{Reason: "run_failed"}
	if err := e.store.UpdateMessage(ctx, msg); err != nil {
		e.logger.Warn("abandon message", "message_id", msg.ID, "error", err)
	}
}

func (e *Engine) accumulateUsage(run *models.Run, providerName string, req *provider.ChatRequest, resp *provider.Response) {
	in := resp.Usage.PromptTokens
	out := resp.Usage.CompletionTokens
	if in == 0 && out == 0 {
		in = provider.EstimateRequestTokens(req)
		out = provider.EstimateTokens(resp.Content)
	}
	if run.Usage == nil {
		run.Usage = &models.Usage{}
	}
	run.Usage.PromptTokens += in
	run.Usage.CompletionTokens += out
	run.Usage.TotalTokens = run.Usage.PromptTokens + run.Usage.CompletionTokens
	e.metrics.TokensUsed.WithLabelValues(providerName, "prompt").Add(float64(in))
	e.metrics.TokensUsed.WithLabelValues(providerName, "completion").Add(float64(out))
}

// halted transitions the run when cancellation or expiry was signalled.
func (e *Engine) halted(ctx context.Context, lr *liveRun, run *models.Run) bool {
	if lr.cancelRequested.Load() {
		e.finishCancelled(lr, run)
		return true
	}
	if ctx.Err() != nil || (run.ExpiresAt != nil && time.Now().Unix() > *run.ExpiresAt) {
		e.finishExpired(lr, run)
		return true
	}
	return false
}

// failOrHalt resolves an error path: cancellation and expiry win over the
// error itself, so an aborted provider call reports cancelled rather than
// failed.
func (e *Engine) failOrHalt(ctx context.Context, lr *liveRun, run *models.Run, err error) {
	if lr.cancelRequested.Load() {
		e.finishCancelled(lr, run)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.finishExpired(lr, run)
		return
	}
	e.finishFailed(lr, run, err)
}

func (e *Engine) finishCompleted(lr *liveRun, run *models.Run) {
	now := time.Now().Unix()
	run.CompletedAt = &now
	e.finish(lr, run, models.RunStatusCompleted)
}

func (e *Engine) finishIncomplete(lr *liveRun, run *models.Run, reason string) {
	now := time.Now().Unix()
	run.CompletedAt = &now
	run.IncompleteDetails = &models.IncompleteDetails{Reason: reason}
	e.finish(lr, run, models.RunStatusIncomplete)
}

func (e *Engine) finishCancelled(lr *liveRun, run *models.Run) {
	now := time.Now().Unix()
	run.CancelledAt = &now
	e.finish(lr, run, models.RunStatusCancelled)
}

func (e *Engine) finishExpired(lr *liveRun, run *models.Run) {
	e.finish(lr, run, models.RunStatusExpired)
}

func (e *Engine) finishFailed(lr *liveRun, run *models.Run, err error) {
	code := models.RunErrorCodeServerError
	if pe, ok := provider.AsError(err); ok {
		switch pe.Kind {
		case provider.KindRateLimited:
			code = models.RunErrorCodeRateLimitExceeded
		case provider.KindBadRequest:
			code = models.RunErrorCodeInvalidPrompt
		}
	}
	e.finishFailedCode(lr, run, code, err.Error())
}

func (e *Engine) finishFailedCode(lr *liveRun, run *models.Run, code, message string) {
	now := time.Now().Unix()
	run.FailedAt = &now
	run.LastError = &models.RunError{Code: code, Message: message}
	e.finish(lr, run, models.RunStatusFailed)
}

// finish persists the terminal state and closes out the stream. Terminal
// writes use a fresh context; the run context may already be dead.
func (e *Engine) finish(lr *liveRun, run *models.Run, status models.RunStatus) {
	run.Status = status
	run.RequiredAction = nil
	lr.finishMu.Lock()
	if err := e.persistRun(run); err != nil {
		e.logger.Error("persist terminal run state",
			"run_id", run.ID, "status", status, "error", err)
	}
	lr.finished = true
	lr.finishMu.Unlock()

	publishRun(lr, models.RunEventForStatus(status), run)
	lr.bus.Publish(models.EventDone, "[DONE]")
	lr.bus.Close()

	e.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	e.logger.Info("run finished",
		"run_id", run.ID,
		"thread_id", run.ThreadID,
		"status", status,
		"cost_usd", Cost(run.Model, usageOrZero(run.Usage)))
}

func usageOrZero(u *models.Usage) models.Usage {
	if u == nil {
		return models.Usage{}
	}
	return *u
}

func (e *Engine) persistRun(run *models.Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return e.store.UpdateRun(ctx, run)
}
