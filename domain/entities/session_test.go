package entities

import (
	"testing"
	"time"
)

func TestNewConversation(t *testing.T) {
	conv := NewConversation("client-1")

	if conv.ID != "client-1" {
		t.Errorf("Expected ID client-1, got %s", conv.ID)
	}
	if len(conv.Turns) != 0 {
		t.Errorf("Expected empty turns, got %d", len(conv.Turns))
	}
	if err := conv.Validate(); err != nil {
		t.Errorf("Valid conversation should not have validation errors, got: %v", err)
	}
}

func TestConversationAppendKeepsOrder(t *testing.T) {
	conv := NewConversation("client-1")
	before := conv.LastActiveAt

	time.Sleep(5 * time.Millisecond)
	conv.Append(NewTurn(RoleUser, "鼻子不通气"), NewTurn(RoleAssistant, "嗯，多久了？"))
	conv.Append(NewTurn(RoleUser, "一周"))

	if len(conv.Turns) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(conv.Turns))
	}
	want := []string{"鼻子不通气", "嗯，多久了？", "一周"}
	for i, turn := range conv.Turns {
		if turn.Content != want[i] {
			t.Errorf("Turn %d: expected %q, got %q", i, want[i], turn.Content)
		}
	}
	if !conv.LastActiveAt.After(before) {
		t.Error("LastActiveAt should move forward on append")
	}
}

func TestNewSessionSnapshotsTurns(t *testing.T) {
	conv := NewConversation("client-1")
	conv.Append(NewTurn(RoleUser, "hello"))

	session := NewSession(conv)
	conv.Append(NewTurn(RoleAssistant, "hi"))

	if len(session.Turns) != 1 {
		t.Errorf("Session should not see turns appended after archiving, got %d", len(session.Turns))
	}
	if session.ID == "" {
		t.Error("Session ID should be generated")
	}
	if session.ConversationID != "client-1" {
		t.Errorf("Expected conversation id client-1, got %s", session.ConversationID)
	}
	if err := session.Validate(); err != nil {
		t.Errorf("Valid session should not have validation errors, got: %v", err)
	}
}

func TestSessionValidation(t *testing.T) {
	session := &Session{ID: "s1"}
	if err := session.Validate(); err == nil {
		t.Error("Session without turns should have validation error")
	}

	session = &Session{Turns: []Turn{NewTurn(RoleUser, "x")}}
	if err := session.Validate(); err == nil {
		t.Error("Session without ID should have validation error")
	}
}
