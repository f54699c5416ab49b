package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/tool"
)

// turnOutcome reports what a single turn observed, for the agentic loop
// to act on.
type turnOutcome struct {
	StopReason     provider.StopReason
	AssistantMsgID string
	Err            error
}

// runSingleTurn implements §4.12.2. appendUserContent controls step 1:
// the original prompt always appends; reminder/continuation turns in
// the agentic loop pass their own content and flag.
func (o *Orchestrator) runSingleTurn(ctx context.Context, sess *session.Session, ag agent.Agent, in PromptInput, out chan<- provider.StreamChunk, appendUserContent bool) turnOutcome {
	return o.turn(ctx, sess, ag, in.Content, appendUserContent, in, out)
}

func (o *Orchestrator) turn(ctx context.Context, sess *session.Session, ag agent.Agent, content string, appendUserContent bool, in PromptInput, out chan<- provider.StreamChunk) turnOutcome {
	log := o.log()

	// Step 1: append a user message when there's content to record.
	if content != "" && appendUserContent {
		if _, err := o.Messages.CreateUser(ctx, sess.ID, content); err != nil {
			return turnOutcome{Err: fmt.Errorf("orchestrator: append user message: %w", err)}
		}
	}

	providerID := in.ProviderID
	if providerID == "" {
		providerID = sess.ProviderID
	}
	modelID := in.ModelID
	if modelID == "" {
		modelID = sess.ModelID
	}

	// Step 2: empty assistant message tagged with the chosen provider/model.
	asst, err := o.Messages.CreateAssistant(ctx, sess.ID, providerID, modelID, false)
	if err != nil {
		return turnOutcome{Err: fmt.Errorf("orchestrator: create assistant message: %w", err)}
	}

	// Step 3: projection of history into provider messages.
	history, err := o.Messages.List(ctx, sess.ID, 0)
	if err != nil {
		return turnOutcome{Err: fmt.Errorf("orchestrator: load history: %w", err)}
	}
	providerMessages := buildProviderMessages(history)

	// Step 4: compose the system prompt.
	system := agent.ComposeSystemPrompt("", ag.Prompt, in.System)

	// Step 5: tool schema, if enabled.
	var schemas []provider.ToolSchema
	if in.ToolsEnabled {
		schemas = toolSchemas(o.Tools)
	}

	req := provider.StreamRequest{
		ModelID:     modelID,
		Messages:    providerMessages,
		Tools:       schemas,
		System:      system,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}

	spanCtx, span := o.Telemetry.StartProviderSpan(ctx, providerID, modelID)
	ch, err := o.Providers.Stream(spanCtx, providerID, modelID, req)
	if err != nil {
		o.Telemetry.EndProviderSpan(spanCtx, span, providerID, modelID, err)
		setErr := o.Messages.SetError(ctx, sess.ID, asst.ID, err.Error())
		if setErr != nil {
			log.Error("orchestrator: persist stream-open error failed", "session", sess.ID, "error", setErr)
		}
		emit(out, provider.StreamChunk{Type: provider.ChunkError, Err: err.Error()})
		return turnOutcome{Err: err, AssistantMsgID: asst.ID}
	}

	outcome := o.consumeStream(ctx, sess, ag, asst.ID, ch, in.ToolsEnabled, out)
	o.Telemetry.EndProviderSpan(spanCtx, span, providerID, modelID, outcome.Err)
	outcome.AssistantMsgID = asst.ID

	// Step 7: touch the session.
	if err := o.Sessions.Touch(ctx, sess.ID); err != nil {
		log.Warn("orchestrator: touch session failed", "session", sess.ID, "error", err)
	}
	return outcome
}

// consumeStream drives step 6: observing chunks, growing parts, and
// dispatching tool calls.
func (o *Orchestrator) consumeStream(ctx context.Context, sess *session.Session, ag agent.Agent, asstID string, ch <-chan provider.StreamChunk, toolsEnabled bool, out chan<- provider.StreamChunk) turnOutcome {
	var textPartID, reasoningPartID string
	var outcome turnOutcome

	for chunk := range ch {
		switch chunk.Type {
		case provider.ChunkText:
			textPartID = o.growTextPart(ctx, sess.ID, asstID, &textPartID, message.PartText, chunk.Text)
			emit(out, chunk)

		case provider.ChunkReasoning:
			reasoningPartID = o.growTextPart(ctx, sess.ID, asstID, &reasoningPartID, message.PartReasoning, chunk.Text)
			emit(out, chunk)

		case provider.ChunkToolCall:
			o.handleToolCall(ctx, sess, ag, asstID, chunk, toolsEnabled, out)

		case provider.ChunkDone:
			if chunk.Usage != nil {
				if err := o.Messages.SetUsage(ctx, sess.ID, asstID, message.Usage{
					InputTokens:  chunk.Usage.InputTokens,
					OutputTokens: chunk.Usage.OutputTokens,
				}); err != nil {
					o.log().Warn("orchestrator: persist usage failed", "session", sess.ID, "error", err)
				}
			}
			if err := o.Messages.SetFinish(ctx, sess.ID, asstID, string(chunk.StopReason)); err != nil {
				o.log().Warn("orchestrator: persist finish failed", "session", sess.ID, "error", err)
			}
			outcome.StopReason = chunk.StopReason
			emit(out, chunk)

		case provider.ChunkError:
			if err := o.Messages.SetError(ctx, sess.ID, asstID, chunk.Err); err != nil {
				o.log().Warn("orchestrator: persist error failed", "session", sess.ID, "error", err)
			}
			outcome.Err = fmt.Errorf("provider: %s", chunk.Err)
			emit(out, chunk)
		}
	}

	return outcome
}

// growTextPart creates the running part on its first call (partID ==
// "") or appends the incremental delta to the existing part's content
// on subsequent calls, returning the (possibly new) part ID.
func (o *Orchestrator) growTextPart(ctx context.Context, sessionID, messageID string, partID *string, typ message.PartType, delta string) string {
	if *partID == "" {
		p, err := o.Messages.AddPart(ctx, sessionID, messageID, &message.Part{Type: typ, Content: delta})
		if err != nil {
			o.log().Warn("orchestrator: add part failed", "session", sessionID, "error", err)
			return ""
		}
		return p.ID
	}
	if _, err := o.Messages.UpdatePart(ctx, sessionID, messageID, *partID, func(p *message.Part) {
		p.Content += delta
	}); err != nil {
		o.log().Warn("orchestrator: update part failed", "session", sessionID, "error", err)
	}
	return *partID
}

// handleToolCall implements the tool_call branch of step 6: permission
// check, part lifecycle, re-emit-before-execute, execution, and the
// synthetic tool_result chunk.
func (o *Orchestrator) handleToolCall(ctx context.Context, sess *session.Session, ag agent.Agent, asstID string, chunk provider.StreamChunk, toolsEnabled bool, out chan<- provider.StreamChunk) {
	tc := chunk.ToolCall

	if !toolsEnabled || !ag.IsAllowed(tc.Name) {
		o.emitDeniedResult(ctx, sess.ID, asstID, tc, out)
		return
	}

	part, err := o.Messages.AddPart(ctx, sess.ID, asstID, &message.Part{
		Type:       message.PartToolCall,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		ToolArgs:   tc.Arguments,
		ToolStatus: message.ToolRunning,
	})
	if err != nil {
		o.log().Warn("orchestrator: add tool_call part failed", "session", sess.ID, "error", err)
		return
	}
	o.publishToolState(sess.ID, part.ID, message.ToolRunning)

	// Re-emit the tool_call chunk before executing so a UI can render
	// interactive tools (e.g. question) before the call blocks.
	emit(out, chunk)

	if proc, ok := o.Procs.Get(sess.ID); ok {
		proc.RecordToolCall(tc.Name, tc.Arguments)
	}

	pausesOnQuestion := tc.Name == "question" && ag.PauseOnQuestion
	if pausesOnQuestion {
		o.setPaused(sess.ID, true, "question")
	}

	tctx := tool.Context{SessionID: sess.ID, MessageID: asstID, ToolCallID: tc.ID, AgentID: ag.ID}
	spanCtx, span := o.Telemetry.StartToolSpan(ctx, tc.Name, tc.ID)
	result, execErr := o.Tools.Execute(spanCtx, tc.Name, tc.Arguments, tctx)
	o.Telemetry.EndToolSpan(spanCtx, span, tc.Name, execErr)

	if pausesOnQuestion {
		o.setPaused(sess.ID, false, "")
	}

	status := message.ToolCompleted
	output := result.Output
	if execErr != nil {
		// Execute only ever returns a non-nil error when the tool itself
		// isn't registered (a tool-raised error is already folded into
		// result.Output as "Error executing tool: ..." by tool.Execute),
		// so this is a distinct message shape, not a duplicate of that one.
		status = message.ToolError
		output = fmt.Sprintf("Error: Tool %q not found", tc.Name)
	}

	if _, err := o.Messages.UpdatePart(ctx, sess.ID, asstID, part.ID, func(p *message.Part) {
		p.ToolStatus = status
	}); err != nil {
		o.log().Warn("orchestrator: patch tool_call status failed", "session", sess.ID, "error", err)
	}
	o.publishToolState(sess.ID, part.ID, status)

	if _, err := o.Messages.AddPart(ctx, sess.ID, asstID, &message.Part{
		Type:       message.PartToolResult,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		ToolOutput: output,
		ToolStatus: status,
	}); err != nil {
		o.log().Warn("orchestrator: add tool_result part failed", "session", sess.ID, "error", err)
	}

	emit(out, provider.StreamChunk{
		Type:       provider.ChunkToolResult,
		ToolCall:   provider.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments},
		ToolOutput: output,
		ToolError:  execErr != nil,
	})
}

// emitDeniedResult synthesizes a tool_result carrying an error for a
// denied or tools-disabled call, per §4.12.2's deny branch and §7's
// tool-permission-denied policy.
func (o *Orchestrator) emitDeniedResult(ctx context.Context, sessionID, asstID string, tc provider.ToolCall, out chan<- provider.StreamChunk) {
	errMsg := fmt.Sprintf("tool %q is not permitted for this agent", tc.Name)
	if _, err := o.Messages.AddPart(ctx, sessionID, asstID, &message.Part{
		Type:       message.PartToolResult,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		ToolOutput: errMsg,
		ToolStatus: message.ToolError,
	}); err != nil {
		o.log().Warn("orchestrator: add denied tool_result part failed", "session", sessionID, "error", err)
	}
	emit(out, provider.StreamChunk{
		Type:       provider.ChunkToolResult,
		ToolCall:   tc,
		ToolOutput: errMsg,
		ToolError:  true,
	})
}

func (o *Orchestrator) publishToolState(sessionID, partID string, status message.ToolStatus) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(bus.Event{
		Topic:     bus.TopicToolStateChanged,
		Publisher: sessionID,
		Payload:   map[string]string{"part_id": partID, "status": string(status)},
	})
}

func emit(out chan<- provider.StreamChunk, chunk provider.StreamChunk) {
	out <- chunk
}

// buildProviderMessages projects the message history into the provider
// wire shape (§4.12.2 step 3): empty continuation user messages are
// dropped, each assistant message flattens into its joined text
// followed by a synthetic user message carrying its tool results. The
// literal phrase "[Called tool: ...]" is never emitted — models imitate
// it instead of producing structured tool calls.
func buildProviderMessages(history []*message.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case message.RoleUser:
			if m.Content == "" {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleUser, Content: m.Content})

		case message.RoleAssistant:
			var text strings.Builder
			var toolBlocks []string
			for _, p := range m.Parts {
				switch p.Type {
				case message.PartText, message.PartReasoning:
					if text.Len() > 0 {
						text.WriteString("\n")
					}
					text.WriteString(p.Content)
				case message.PartToolResult:
					if p.ToolStatus == message.ToolCompleted || p.ToolStatus == message.ToolError {
						toolBlocks = append(toolBlocks, fmt.Sprintf("Tool result:\n%s", p.ToolOutput))
					}
				}
			}
			if text.Len() > 0 {
				out = append(out, provider.Message{Role: provider.RoleAssistant, Content: text.String()})
			}
			if len(toolBlocks) > 0 {
				out = append(out, provider.Message{Role: provider.RoleUser, Content: strings.Join(toolBlocks, "\n\n")})
			}
		}
	}
	return out
}

func toolSchemas(reg *tool.Registry) []provider.ToolSchema {
	tools := reg.List()
	out := make([]provider.ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, provider.ToolSchema{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.ParameterSchema(),
		})
	}
	return out
}
