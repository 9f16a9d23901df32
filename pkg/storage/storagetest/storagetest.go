// Package storagetest holds the behavior tests every ConversationStore
// must pass. Adapter packages call Run from their own tests.
package storagetest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/storage"
)

// Conversation builds a valid conversation with a tool round trip.
// Timestamps are truncated to microseconds to survive database storage.
func Conversation(t *testing.T, question string) *api.Conversation {
	t.Helper()
	conv := api.NewConversation()
	turns := []api.Turn{
		api.NewTextTurn(api.RoleSystem, "be brief"),
		api.NewTextTurn(api.RoleUser, question),
		{Role: api.RoleAssistant, Parts: []api.Part{
			api.TextPart("checking"),
			api.ToolCallPart(api.ToolCall{ID: "call_1", Name: "lookup", Arguments: []byte(`{"q":"x"}`)}),
		}},
		{Role: api.RoleTool, Parts: []api.Part{api.ToolResultPart(api.ToolResult{CallID: "call_1", Output: "42"})}},
		api.NewTextTurn(api.RoleAssistant, "the answer is 42"),
	}
	for _, turn := range turns {
		if err := conv.Append(turn); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	conv.CreatedAt = conv.CreatedAt.Truncate(time.Microsecond)
	conv.UpdatedAt = conv.UpdatedAt.Truncate(time.Microsecond)
	return conv
}

// Run exercises a store. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.ConversationStore) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := Conversation(t, "what is the answer?")

		if err := s.Create(ctx, conv); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		got, err := s.Get(ctx, conv.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.ID != conv.ID || len(got.Turns) != len(conv.Turns) {
			t.Fatalf("got %d turns for %s, want %d", len(got.Turns), got.ID, len(conv.Turns))
		}
		calls := got.Turns[2].ToolCalls()
		if len(calls) != 1 || calls[0].Name != "lookup" || compact(t, calls[0].Arguments) != `{"q":"x"}` {
			t.Errorf("tool call = %+v", calls)
		}
		if r := got.Turns[3].ToolResults(); len(r) != 1 || r[0].Output != "42" {
			t.Errorf("tool result = %+v", r)
		}
		if !got.CreatedAt.Equal(conv.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, conv.CreatedAt)
		}
		if err := api.ValidateConversation(got); err != nil {
			t.Errorf("loaded conversation is invalid: %v", err)
		}
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := Conversation(t, "q")
		if err := s.Create(ctx, conv); err != nil {
			t.Fatal(err)
		}
		conv.Turns = conv.Turns[:1]

		got, err := s.Get(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		got.Turns = nil
		again, err := s.Get(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Turns) != 5 {
			t.Errorf("stored turns = %d, want 5", len(again.Turns))
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), api.NewConversationID())
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("CreateConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := Conversation(t, "q")
		if err := s.Create(ctx, conv); err != nil {
			t.Fatal(err)
		}
		if err := s.Create(ctx, conv); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("CreateRejectsInvalid", func(t *testing.T) {
		s := newStore(t)
		conv := Conversation(t, "q")
		conv.ID = "not-an-id"
		if err := s.Create(context.Background(), conv); err == nil {
			t.Error("expected error for invalid id")
		}
	})

	t.Run("Update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := Conversation(t, "q")
		if err := s.Create(ctx, conv); err != nil {
			t.Fatal(err)
		}
		if err := conv.Append(api.NewTextTurn(api.RoleUser, "follow-up")); err != nil {
			t.Fatal(err)
		}
		conv.UpdatedAt = conv.UpdatedAt.Add(time.Minute).Truncate(time.Microsecond)
		if err := s.Update(ctx, conv); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got, err := s.Get(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Turns) != 6 || got.Turns[5].Text() != "follow-up" {
			t.Errorf("turns = %d", len(got.Turns))
		}
		if !got.UpdatedAt.Equal(conv.UpdatedAt) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, conv.UpdatedAt)
		}

		missing := Conversation(t, "other")
		if err := s.Update(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Update(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("Save", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := Conversation(t, "q")
		if err := storage.Save(ctx, s, conv); err != nil {
			t.Fatalf("first Save failed: %v", err)
		}
		if err := conv.Append(api.NewTextTurn(api.RoleUser, "more")); err != nil {
			t.Fatal(err)
		}
		if err := storage.Save(ctx, s, conv); err != nil {
			t.Fatalf("second Save failed: %v", err)
		}
		got, err := s.Get(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Turns) != 6 {
			t.Errorf("turns = %d, want 6", len(got.Turns))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv := Conversation(t, "q")
		if err := s.Create(ctx, conv); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, conv.ID); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, conv.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get after delete = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, conv.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("second Delete = %v, want ErrNotFound", err)
		}
		list, err := s.List(ctx, storage.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(list.Data) != 0 {
			t.Errorf("list after delete = %d entries", len(list.Data))
		}
	})

	t.Run("ListOrderAndPagination", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		var ids []string
		for i := range 5 {
			conv := Conversation(t, "question")
			conv.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := s.Create(ctx, conv); err != nil {
				t.Fatal(err)
			}
			ids = append(ids, conv.ID)
		}

		page, err := s.List(ctx, storage.ListOptions{Limit: 2})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(page.Data) != 2 || !page.HasMore {
			t.Fatalf("first page = %d entries, has_more=%v", len(page.Data), page.HasMore)
		}
		if page.Data[0].ID != ids[4] || page.Data[1].ID != ids[3] {
			t.Errorf("first page order = %s %s", page.Data[0].ID, page.Data[1].ID)
		}
		if page.Data[0].Title != "question" || page.Data[0].Turns != 5 {
			t.Errorf("summary = %+v", page.Data[0])
		}

		next, err := s.List(ctx, storage.ListOptions{Limit: 2, After: page.Data[1].ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(next.Data) != 2 || next.Data[0].ID != ids[2] || next.Data[1].ID != ids[1] {
			t.Errorf("second page = %+v", next.Data)
		}

		last, err := s.List(ctx, storage.ListOptions{Limit: 2, After: next.Data[1].ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(last.Data) != 1 || last.HasMore {
			t.Errorf("last page = %d entries, has_more=%v", len(last.Data), last.HasMore)
		}

		asc, err := s.List(ctx, storage.ListOptions{Order: "asc", Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(asc.Data) != 1 || asc.Data[0].ID != ids[0] {
			t.Errorf("ascending first = %+v", asc.Data)
		}
	})

	t.Run("OwnerIsolation", func(t *testing.T) {
		s := newStore(t)
		alice := storage.SetOwner(context.Background(), "alice")
		bob := storage.SetOwner(context.Background(), "bob")

		conv := Conversation(t, "private")
		if err := s.Create(alice, conv); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(bob, conv.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("bob Get = %v, want ErrNotFound", err)
		}
		if err := s.Delete(bob, conv.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("bob Delete = %v, want ErrNotFound", err)
		}
		if err := s.Update(bob, conv); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("bob Update = %v, want ErrNotFound", err)
		}
		list, err := s.List(bob, storage.ListOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(list.Data) != 0 {
			t.Errorf("bob sees %d conversations", len(list.Data))
		}
		if _, err := s.Get(alice, conv.ID); err != nil {
			t.Errorf("alice Get = %v", err)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		s := newStore(t)
		if err := s.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck = %v", err)
		}
	})
}

// compact strips insignificant whitespace; JSONB columns reformat documents.
func compact(t *testing.T, raw []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compacting %q: %v", raw, err)
	}
	return buf.String()
}
