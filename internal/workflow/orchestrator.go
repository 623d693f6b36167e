package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/validate"
)

var ErrEmptyMessage = errors.New("message is empty")

const (
	defaultHistoryTurns = 10
	fallbackReply       = "I can answer questions about your data. Try asking something like \"how many orders were placed last week?\""
)

type ReplyKind string

const (
	ReplyAnswer        ReplyKind = "answer"
	ReplyClarification ReplyKind = "clarification"
	ReplyMessage       ReplyKind = "message"
	ReplyError         ReplyKind = "error"
)

type Message struct {
	TenantID       string
	ConversationID string
	Text           string
}

type Reply struct {
	ConversationID string                    `json:"conversation_id"`
	Kind           ReplyKind                 `json:"kind"`
	Text           string                    `json:"text"`
	Response       *nl2sql.Response          `json:"response,omitempty"`
	Draft          *nl2sql.SQLDraft          `json:"draft,omitempty"`
	Missing        []nl2sql.MissingParameter `json:"missing,omitempty"`
	Validation     *validate.Summary         `json:"validation,omitempty"`
	State          conversation.State        `json:"state"`
}

// Completer is the conversational agent.
type Completer interface {
	Complete(ctx context.Context, input string, history []llm.Message) (string, error)
}

type Options struct {
	Classifier     Classifier
	Pipeline       *Pipeline
	Store          conversation.Store
	History        history.Store
	Conversational Completer
	// HistoryTurns bounds the turns kept per conversation and sent to the
	// conversational agent.
	HistoryTurns int
	Clock        func() time.Time
	Logger       *slog.Logger
	NewID        func() string
}

// Orchestrator routes each turn of a conversation: data questions to the
// pipeline, replies to an open clarification back into the stalled
// extraction, and everything else to the conversational agent.
type Orchestrator struct {
	classifier     Classifier
	pipeline       *Pipeline
	store          conversation.Store
	history        history.Store
	conversational Completer
	historyTurns   int
	now            func() time.Time
	logger         *slog.Logger
	newID          func() string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	o := &Orchestrator{
		classifier:     opts.Classifier,
		pipeline:       opts.Pipeline,
		store:          opts.Store,
		history:        opts.History,
		conversational: opts.Conversational,
		historyTurns:   opts.HistoryTurns,
		now:            opts.Clock,
		logger:         opts.Logger,
		newID:          opts.NewID,
	}
	if o.classifier == nil {
		o.classifier = HeuristicClassifier{}
	}
	if o.historyTurns <= 0 {
		o.historyTurns = defaultHistoryTurns
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = observability.DiscardLogger()
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// Handle processes one user turn. Errors are returned only for malformed
// input; pipeline failures come back as error replies.
func (o *Orchestrator) Handle(ctx context.Context, msg Message) (Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if strings.TrimSpace(msg.ConversationID) == "" {
		msg.ConversationID = o.newID()
	}
	if err := conversation.ValidateKey(msg.TenantID, msg.ConversationID); err != nil {
		return Reply{}, err
	}
	decoded, err := nl2sql.DecodeMessage(text)
	if err != nil {
		return Reply{}, fmt.Errorf("decode message: %w", err)
	}
	ctx = observability.ContextWithConversationID(ctx, msg.ConversationID)

	record := o.load(ctx, msg.TenantID, msg.ConversationID)
	record.AppendTurn(conversation.RoleUser, text, o.now(), o.historyTurns)

	var reply Reply
	switch m := decoded.(type) {
	case nl2sql.ExtractionRequestMessage:
		reply = o.resume(ctx, &record, m.Request)
	case nl2sql.ClarificationMessage:
		reply = o.clarify(ctx, &record, m.Text, m.Original)
	case nl2sql.UserQuestionMessage:
		reply = o.route(ctx, &record, m.Text)
	default:
		return Reply{}, fmt.Errorf("unsupported message kind %q", decoded.Kind())
	}

	reply.ConversationID = msg.ConversationID
	reply.State = record.State
	record.AppendTurn(conversation.RoleAssistant, reply.Text, o.now(), o.historyTurns)
	record.UpdatedAt = o.now()
	if err := o.store.Save(ctx, record); err != nil {
		o.logger.WarnContext(ctx, "save conversation state failed",
			append(observability.RequestAttrs(ctx), "error", err)...)
	}
	return reply, nil
}

func (o *Orchestrator) load(ctx context.Context, tenantID, conversationID string) conversation.Record {
	record, err := o.store.Get(ctx, tenantID, conversationID)
	if err == nil {
		return record
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		o.logger.WarnContext(ctx, "load conversation state failed, starting fresh",
			append(observability.RequestAttrs(ctx), "error", err)...)
	}
	return conversation.Record{
		TenantID:       tenantID,
		ConversationID: conversationID,
		State:          conversation.StateAwaitingInput,
		History:        []conversation.Turn{},
	}
}

func (o *Orchestrator) route(ctx context.Context, record *conversation.Record, text string) Reply {
	record.State = conversation.StateClassifyingIntent
	in := ClassifyInput{Text: text}
	if record.Pending != nil {
		for _, missing := range record.Pending.Missing {
			in.Pending = append(in.Pending, missing.Name)
		}
	}
	intent, err := o.classifier.Classify(ctx, in)
	if err != nil {
		o.logger.WarnContext(ctx, "intent classification failed, treating as data question",
			append(observability.RequestAttrs(ctx), "error", err)...)
		intent = IntentDataQuery
	}
	o.logger.DebugContext(ctx, "intent classified",
		append(observability.RequestAttrs(ctx), "intent", string(intent))...)

	switch intent {
	case IntentClarification:
		if record.Pending != nil {
			return o.clarify(ctx, record, text, "")
		}
		return o.ask(ctx, record, text)
	case IntentDataQuery:
		return o.ask(ctx, record, text)
	default:
		return o.converse(ctx, record, text)
	}
}

// ask runs a fresh data question. A pending clarification is dropped.
func (o *Orchestrator) ask(ctx context.Context, record *conversation.Record, question string) Reply {
	record.State = conversation.StateProcessingDataQuery
	record.Pending = nil
	result := o.pipeline.Run(ctx, record.TenantID, question)
	return o.settle(ctx, record, question, result)
}

// clarify merges a reply into the stalled extraction and retries it. Without
// a pending extraction the reply is combined with original and asked anew.
func (o *Orchestrator) clarify(ctx context.Context, record *conversation.Record, text, original string) Reply {
	pending := record.Pending
	if pending == nil {
		question := strings.TrimSpace(original + " " + text)
		return o.ask(ctx, record, question)
	}
	record.State = conversation.StateProcessingDataQuery
	known := make(map[string]any, len(pending.Known))
	for name, value := range pending.Known {
		known[name] = value
	}
	req := nl2sql.ExtractionRequest{
		UserQuery: strings.TrimSpace(pending.OriginalQuery + " " + text),
		Template:  pending.Template,
		Known:     known,
	}
	return o.resume(ctx, record, req)
}

func (o *Orchestrator) resume(ctx context.Context, record *conversation.Record, req nl2sql.ExtractionRequest) Reply {
	record.State = conversation.StateProcessingDataQuery
	result := o.pipeline.Resume(ctx, req)
	return o.settle(ctx, record, req.UserQuery, result)
}

func (o *Orchestrator) settle(ctx context.Context, record *conversation.Record, question string, result Result) Reply {
	draft := result.Draft
	reply := Reply{Draft: &draft, Validation: result.Validation}

	if result.NeedsClarification() && result.Template != nil {
		record.State = conversation.StateAwaitingClarification
		record.Pending = &conversation.PendingExtraction{
			Template:      *result.Template,
			Known:         draft.ExtractedParameters,
			Missing:       draft.MissingParameters,
			OriginalQuery: question,
			CreatedAt:     o.now(),
		}
		observability.IncrementClarificationRequests()
		reply.Kind = ReplyClarification
		reply.Missing = draft.MissingParameters
		reply.Text = clarificationText(draft.MissingParameters)
		return reply
	}

	record.State = conversation.StateAwaitingInput
	record.Pending = nil
	response := result.Response
	reply.Response = &response
	if response.Success {
		reply.Kind = ReplyAnswer
		reply.Text = answerText(response)
	} else {
		reply.Kind = ReplyError
		reply.Text = "I could not answer that: " + errorText(response, draft)
	}
	if draft.SQL() != "" {
		o.record(ctx, record, question, draft, response, result.Duration)
	}
	return reply
}

func (o *Orchestrator) converse(ctx context.Context, record *conversation.Record, text string) Reply {
	record.State = conversation.StateConversationalReply
	reply := Reply{Kind: ReplyMessage, Text: fallbackReply}
	if o.conversational != nil {
		turns := record.History
		if len(turns) > 0 {
			turns = turns[:len(turns)-1]
		}
		messages := make([]llm.Message, 0, len(turns))
		for _, turn := range turns {
			messages = append(messages, llm.Message{Role: llm.Role(turn.Role), Content: turn.Content})
		}
		answer, err := o.conversational.Complete(ctx, text, messages)
		switch {
		case err != nil:
			o.logger.WarnContext(ctx, "conversational agent failed",
				append(observability.RequestAttrs(ctx), "error", err)...)
		case strings.TrimSpace(answer) != "":
			reply.Text = strings.TrimSpace(answer)
		}
	}
	if record.Pending != nil {
		record.State = conversation.StateAwaitingClarification
	} else {
		record.State = conversation.StateAwaitingInput
	}
	return reply
}

func (o *Orchestrator) record(ctx context.Context, record *conversation.Record, question string, draft nl2sql.SQLDraft, response nl2sql.Response, elapsed time.Duration) {
	if o.history == nil {
		return
	}
	entry := history.Entry{
		TenantID:       record.TenantID,
		ConversationID: record.ConversationID,
		Question:       question,
		SQL:            draft.SQL(),
		Source:         string(draft.Source),
		TemplateName:   draft.TemplateName,
		Success:        response.Success,
		RowCount:       response.RowCount,
		Duration:       elapsed,
	}
	if response.Error != nil {
		entry.Error = *response.Error
	}
	if _, err := o.history.Append(ctx, entry); err != nil {
		o.logger.WarnContext(ctx, "append query history failed",
			append(observability.RequestAttrs(ctx), "error", err)...)
	}
}

// Conversation returns the stored state of a conversation.
func (o *Orchestrator) Conversation(ctx context.Context, tenantID, conversationID string) (conversation.Record, error) {
	if err := conversation.ValidateKey(tenantID, conversationID); err != nil {
		return conversation.Record{}, err
	}
	return o.store.Get(ctx, tenantID, conversationID)
}

// Reset forgets a conversation, including any pending clarification.
func (o *Orchestrator) Reset(ctx context.Context, tenantID, conversationID string) error {
	if err := conversation.ValidateKey(tenantID, conversationID); err != nil {
		return err
	}
	return o.store.Delete(ctx, tenantID, conversationID)
}

// QueryHistory lists executed questions of a conversation, newest first.
func (o *Orchestrator) QueryHistory(ctx context.Context, tenantID, conversationID string, limit int) ([]history.Entry, error) {
	if err := conversation.ValidateKey(tenantID, conversationID); err != nil {
		return nil, err
	}
	if o.history == nil {
		return []history.Entry{}, nil
	}
	return o.history.ListByConversation(ctx, tenantID, conversationID, limit)
}

func clarificationText(missing []nl2sql.MissingParameter) string {
	var b strings.Builder
	b.WriteString("I need a bit more information to run this query:")
	for _, param := range missing {
		b.WriteString("\n- ")
		b.WriteString(param.Name)
		if param.Description != "" {
			b.WriteString(": ")
			b.WriteString(param.Description)
		}
		if param.ValidationHint != "" {
			fmt.Fprintf(&b, " (%s)", param.ValidationHint)
		}
	}
	return b.String()
}

func answerText(response nl2sql.Response) string {
	switch response.RowCount {
	case 0:
		return "The query returned no rows."
	case 1:
		return "The query returned 1 row."
	default:
		return fmt.Sprintf("The query returned %d rows.", response.RowCount)
	}
}

func errorText(response nl2sql.Response, draft nl2sql.SQLDraft) string {
	if response.Error != nil && *response.Error != "" {
		return *response.Error
	}
	if draft.Error != "" {
		return draft.Error
	}
	return "unknown error"
}
