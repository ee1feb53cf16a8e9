package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultTranscriptWriteTimeout = 5 * time.Second

	emptyReplyText = "Sorry, no answer."
)

// Reply is the outcome of one orchestrated turn
type Reply struct {
	Text string
	// Tool is the skill that produced Text, if any
	Tool string
	// Fallback is set when Text is a canned message rather than model output
	Fallback bool
}

// ConversationService turns a finalized user utterance into reply text
type ConversationService struct {
	llm          repositories.LargeLanguageModel
	skills       map[string]repositories.Skill
	declarations []repositories.ToolDeclaration
	transcripts  repositories.TranscriptRepository
	persona      string
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewConversationService creates a new conversation service.
// transcripts may be nil when no log is configured.
func NewConversationService(
	llm repositories.LargeLanguageModel,
	skills []repositories.Skill,
	transcripts repositories.TranscriptRepository,
	persona string,
	logger *zap.Logger,
) *ConversationService {
	registry := make(map[string]repositories.Skill, len(skills))
	declarations := make([]repositories.ToolDeclaration, 0, len(skills))
	for _, skill := range skills {
		decl := skill.Declaration()
		registry[decl.Name] = skill
		declarations = append(declarations, decl)
	}

	return &ConversationService{
		llm:          llm,
		skills:       registry,
		declarations: declarations,
		transcripts:  transcripts,
		persona:      persona,
		writeTimeout: defaultTranscriptWriteTimeout,
		logger:       logger,
	}
}

// Respond runs one turn: model call, optional skill call, history update and
// transcript log write. Stage failures become fallback text. The only error
// returned is ctx's, in which case history is left untouched.
func (s *ConversationService) Respond(ctx context.Context, session *entities.Session, userText string) (Reply, error) {
	logger := s.logger.With(zap.String("sessionID", session.ID))

	req := repositories.ChatRequest{
		SystemPrompt: s.persona,
		History:      toChatMessages(session.HistorySnapshot()),
		Message:      userText,
		Tools:        s.declarations,
	}

	reply, err := s.generate(ctx, req, logger)
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Info("Turn cancelled, discarding reply", zap.Error(ctxErr))
		return Reply{}, ctxErr
	}
	if err != nil {
		logger.Error("Language model failed, using fallback reply", zap.Error(err))
		reply = Reply{Text: domain.FallbackMessage(err), Fallback: true}
	}

	userTurn := session.AddTurn(entities.MessageRoleUser, userText)
	assistantTurn := session.AddTurn(entities.MessageRoleAssistant, reply.Text)
	s.logTurns(session.ID, logger, userTurn, assistantTurn)

	logger.Info("Turn processed",
		zap.String("tool", reply.Tool),
		zap.Bool("fallback", reply.Fallback),
		zap.Int("historyLength", len(session.History)))

	return reply, nil
}

// generate streams the model reply. A registered tool call wins over any text
// and ends the stream; unregistered tool calls are ignored.
func (s *ConversationService) generate(ctx context.Context, req repositories.ChatRequest, logger *zap.Logger) (Reply, error) {
	var (
		text       strings.Builder
		call       *repositories.ToolCall
		unknownFor string
	)

	for chunk, err := range s.llm.Generate(ctx, req) {
		if err != nil {
			return Reply{}, domain.NewStageError(domain.ErrModel, err)
		}
		if chunk.ToolCall != nil {
			if _, ok := s.skills[chunk.ToolCall.Name]; !ok {
				logger.Warn("Model requested unknown tool", zap.String("tool", chunk.ToolCall.Name))
				unknownFor = chunk.ToolCall.Name
				continue
			}
			call = chunk.ToolCall
			break
		}
		text.WriteString(chunk.Text)
	}

	if call != nil {
		return s.callSkill(ctx, call, logger), nil
	}

	reply := strings.TrimSpace(text.String())
	if reply == "" {
		if unknownFor != "" {
			return Reply{Text: fmt.Sprintf("Sorry, I can't use the %s tool right now.", unknownFor), Fallback: true}, nil
		}
		return Reply{Text: emptyReplyText, Fallback: true}, nil
	}
	return Reply{Text: reply}, nil
}

func (s *ConversationService) callSkill(ctx context.Context, call *repositories.ToolCall, logger *zap.Logger) Reply {
	skill := s.skills[call.Name]

	logger.Info("Calling skill", zap.String("tool", call.Name), zap.Any("args", call.Args))

	text, err := skill.Call(ctx, call.Args)
	if err != nil {
		logger.Warn("Skill failed", zap.String("tool", call.Name), zap.Error(err))

		var toolErr *domain.ToolError
		if errors.As(err, &toolErr) && toolErr.Message != "" {
			return Reply{Text: toolErr.Message, Tool: call.Name, Fallback: true}
		}
		return Reply{Text: err.Error(), Tool: call.Name, Fallback: true}
	}

	return Reply{Text: text, Tool: call.Name}
}

// logTurns writes both turns to the transcript log. Failures are only logged.
func (s *ConversationService) logTurns(sessionID string, logger *zap.Logger, turns ...entities.Turn) {
	if s.transcripts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	for _, turn := range turns {
		if err := s.transcripts.Append(ctx, entities.NewTranscriptEntry(sessionID, turn)); err != nil {
			logger.Warn("Failed to write transcript entry",
				zap.String("role", string(turn.Role)),
				zap.Error(err))
		}
	}
}

func toChatMessages(turns []entities.Turn) []repositories.ChatMessage {
	messages := make([]repositories.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		role := repositories.UserRole
		if turn.Role == entities.MessageRoleAssistant {
			role = repositories.AssistantRole
		}
		messages = append(messages, repositories.ChatMessage{Role: role, Content: turn.Content})
	}
	return messages
}
