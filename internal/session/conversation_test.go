package session

import (
	"fmt"
	"testing"

	"ratchet/internal/types"
)

func TestConversation_AppendOrder(t *testing.T) {
	c := NewConversation(0)
	c.Append(types.Message{Role: types.RoleUser, Content: "first"})
	c.Append(types.Message{Role: types.RoleAssistant, Content: "second"})
	c.Append(types.Message{Role: types.RoleUser, Content: "third"})

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("messages[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("append should stamp messages")
	}
}

func TestConversation_CapDropsOldestButKeepsSystem(t *testing.T) {
	c := NewConversation(4)
	c.Append(types.Message{Role: types.RoleSystem, Content: "system prompt"})
	for i := 0; i < 10; i++ {
		c.Append(types.Message{Role: types.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	msgs := c.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want cap 4", len(msgs))
	}
	if msgs[0].Role != types.RoleSystem {
		t.Error("system prompt must survive trimming")
	}
	if msgs[len(msgs)-1].Content != "m9" {
		t.Errorf("newest message = %q, want m9", msgs[len(msgs)-1].Content)
	}
}

func TestConversation_MessagesReturnsCopy(t *testing.T) {
	c := NewConversation(0)
	c.Append(types.Message{Role: types.RoleUser, Content: "original"})

	msgs := c.Messages()
	msgs[0].Content = "mutated"
	if c.Messages()[0].Content != "original" {
		t.Error("Messages must return a copy")
	}
}
