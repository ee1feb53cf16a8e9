package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const testPersona = "You are a helpful squirrel."

func TestConversationService_TextReply(t *testing.T) {
	llm := &stubLLM{chunks: []repositories.ChatChunk{{Text: "Hello "}, {Text: "friend!"}}}
	transcripts := &memoryTranscripts{}
	service := NewConversationService(llm, nil, transcripts, testPersona, zaptest.NewLogger(t))

	session := entities.NewSession("s1")
	session.AddTurn(entities.MessageRoleUser, "earlier question")
	session.AddTurn(entities.MessageRoleAssistant, "earlier answer")

	reply, err := service.Respond(context.Background(), session, "Hi there")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if reply.Text != "Hello friend!" {
		t.Errorf("Expected concatenated reply, got %q", reply.Text)
	}
	if reply.Fallback {
		t.Error("Did not expect fallback reply")
	}

	req := llm.requests[0]
	if req.SystemPrompt != testPersona {
		t.Errorf("Expected persona to be sent, got %q", req.SystemPrompt)
	}
	if len(req.History) != 2 || req.History[1].Role != repositories.AssistantRole {
		t.Errorf("Expected prior history to be sent, got %+v", req.History)
	}
	if req.Message != "Hi there" {
		t.Errorf("Expected user message, got %q", req.Message)
	}

	if len(session.History) != 4 {
		t.Fatalf("Expected history to grow by 2, got %d turns", len(session.History))
	}
	if session.History[3].Content != "Hello friend!" {
		t.Errorf("Expected assistant turn appended, got %q", session.History[3].Content)
	}

	if len(transcripts.entries) != 2 {
		t.Fatalf("Expected 2 transcript entries, got %d", len(transcripts.entries))
	}
	if transcripts.entries[0].Role != entities.MessageRoleUser || transcripts.entries[0].SessionID != "s1" {
		t.Errorf("Unexpected first entry %+v", transcripts.entries[0])
	}
}

func TestConversationService_ModelFailureUsesFallback(t *testing.T) {
	llm := &stubLLM{chunks: []repositories.ChatChunk{{Text: "partial"}}, err: errors.New("503 unavailable")}
	service := NewConversationService(llm, nil, nil, testPersona, zaptest.NewLogger(t))
	session := entities.NewSession("s1")

	for i := 1; i <= 3; i++ {
		reply, err := service.Respond(context.Background(), session, "Are you there?")
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}
		if reply.Text != domain.FallbackModel {
			t.Errorf("Expected model fallback, got %q", reply.Text)
		}
		if !reply.Fallback {
			t.Error("Expected reply to be marked as fallback")
		}
		if len(session.History) != 2*i {
			t.Errorf("Expected %d turns after %d calls, got %d", 2*i, i, len(session.History))
		}
	}
}

func TestConversationService_ToolCallWinsOverText(t *testing.T) {
	weather := &stubSkill{name: "get_current_weather", reply: "It is sunny in Paris."}
	llm := &stubLLM{chunks: []repositories.ChatChunk{
		{Text: "Let me check"},
		{ToolCall: &repositories.ToolCall{Name: "get_current_weather", Args: map[string]any{"city": "Paris"}}},
		{ToolCall: &repositories.ToolCall{Name: "get_current_weather", Args: map[string]any{"city": "Rome"}}},
		{Text: " more text"},
	}}
	service := NewConversationService(llm, []repositories.Skill{weather}, nil, testPersona, zaptest.NewLogger(t))
	session := entities.NewSession("s1")

	reply, err := service.Respond(context.Background(), session, "What is the weather in Paris")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if reply.Text != "It is sunny in Paris." {
		t.Errorf("Expected skill reply, got %q", reply.Text)
	}
	if reply.Tool != "get_current_weather" {
		t.Errorf("Expected tool name, got %q", reply.Tool)
	}
	if len(weather.calls) != 1 {
		t.Fatalf("Expected exactly one skill call, got %d", len(weather.calls))
	}
	if weather.calls[0]["city"] != "Paris" {
		t.Errorf("Expected city Paris, got %v", weather.calls[0]["city"])
	}
	if len(llm.requests[0].Tools) != 1 || llm.requests[0].Tools[0].Name != "get_current_weather" {
		t.Errorf("Expected tool declaration to be offered, got %+v", llm.requests[0].Tools)
	}
}

func TestConversationService_UnregisteredTool(t *testing.T) {
	weather := &stubSkill{name: "get_current_weather", reply: "unused"}

	t.Run("with text", func(t *testing.T) {
		llm := &stubLLM{chunks: []repositories.ChatChunk{
			{ToolCall: &repositories.ToolCall{Name: "launch_rocket"}},
			{Text: "I can't do that."},
		}}
		service := NewConversationService(llm, []repositories.Skill{weather}, nil, testPersona, zaptest.NewLogger(t))

		reply, err := service.Respond(context.Background(), entities.NewSession("s1"), "Launch the rocket")
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}
		if reply.Text != "I can't do that." {
			t.Errorf("Expected plain text reply, got %q", reply.Text)
		}
	})

	t.Run("without text", func(t *testing.T) {
		llm := &stubLLM{chunks: []repositories.ChatChunk{
			{ToolCall: &repositories.ToolCall{Name: "launch_rocket"}},
		}}
		service := NewConversationService(llm, []repositories.Skill{weather}, nil, testPersona, zaptest.NewLogger(t))

		reply, err := service.Respond(context.Background(), entities.NewSession("s1"), "Launch the rocket")
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}
		if !strings.Contains(reply.Text, "launch_rocket") {
			t.Errorf("Expected formatted message naming the tool, got %q", reply.Text)
		}
	})

	if len(weather.calls) != 0 {
		t.Errorf("Expected no skill calls, got %d", len(weather.calls))
	}
}

func TestConversationService_SkillErrorBecomesReply(t *testing.T) {
	weather := &stubSkill{
		name: "get_current_weather",
		err:  &domain.ToolError{Tool: "get_current_weather", Message: "I couldn't find a city called Atlantis."},
	}
	llm := &stubLLM{chunks: []repositories.ChatChunk{
		{ToolCall: &repositories.ToolCall{Name: "get_current_weather", Args: map[string]any{"city": "Atlantis"}}},
	}}
	service := NewConversationService(llm, []repositories.Skill{weather}, nil, testPersona, zaptest.NewLogger(t))
	session := entities.NewSession("s1")

	reply, err := service.Respond(context.Background(), session, "Weather in Atlantis?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Text != "I couldn't find a city called Atlantis." {
		t.Errorf("Expected tool error message, got %q", reply.Text)
	}
	if len(weather.calls) != 1 {
		t.Errorf("Expected no retry, got %d calls", len(weather.calls))
	}
	if len(session.History) != 2 {
		t.Errorf("Expected 2 turns, got %d", len(session.History))
	}
}

func TestConversationService_TranscriptFailureIsIgnored(t *testing.T) {
	llm := &stubLLM{chunks: []repositories.ChatChunk{{Text: "Still here."}}}
	transcripts := &memoryTranscripts{err: errors.New("disk full")}
	service := NewConversationService(llm, nil, transcripts, testPersona, zaptest.NewLogger(t))
	session := entities.NewSession("s1")

	reply, err := service.Respond(context.Background(), session, "Hello")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Text != "Still here." {
		t.Errorf("Unexpected reply %q", reply.Text)
	}
	if len(session.History) != 2 {
		t.Errorf("Expected 2 turns, got %d", len(session.History))
	}
}

func TestConversationService_CancelledTurnIsDiscarded(t *testing.T) {
	llm := &stubLLM{chunks: []repositories.ChatChunk{{Text: "late reply"}}}
	service := NewConversationService(llm, nil, nil, testPersona, zaptest.NewLogger(t))
	session := entities.NewSession("s1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := service.Respond(ctx, session, "Hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(session.History) != 0 {
		t.Errorf("Expected history untouched, got %d turns", len(session.History))
	}
}

func TestConversationService_EmptyReply(t *testing.T) {
	llm := &stubLLM{chunks: []repositories.ChatChunk{{Text: "   "}}}
	service := NewConversationService(llm, nil, nil, testPersona, zaptest.NewLogger(t))

	reply, err := service.Respond(context.Background(), entities.NewSession("s1"), "Hello")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Text != emptyReplyText {
		t.Errorf("Expected empty reply text, got %q", reply.Text)
	}
}
