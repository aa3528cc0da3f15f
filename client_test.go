package campuschat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	campuschat "github.com/nextgen-campus/campuschat-go"
)

func TestClient_ListChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats" {
			t.Errorf("path = %s, want /chats", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode([]campuschat.ChatSession{
			{ID: "c1", Participants: []string{"me", "u2"}},
		})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok-123")
	chats, err := client.ListChats(context.Background())
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "c1" {
		t.Fatalf("chats = %+v", chats)
	}
}

func TestClient_FetchMessagesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("before") != "2026-01-01T10:00:00Z" {
			t.Errorf("before = %q", q.Get("before"))
		}
		if q.Get("limit") != "25" {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		json.NewEncoder(w).Encode([]campuschat.Message{})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	_, err := client.FetchChatMessages(context.Background(), "c1", &campuschat.PageOptions{
		Before: "2026-01-01T10:00:00Z",
		Limit:  25,
	})
	if err != nil {
		t.Fatalf("FetchChatMessages: %v", err)
	}
}

func TestClient_FetchMessagesDefaultLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		if r.URL.Query().Has("before") {
			t.Error("unexpected before param on latest-page fetch")
		}
		json.NewEncoder(w).Encode([]campuschat.Message{})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	if _, err := client.FetchChatMessages(context.Background(), "c1", nil); err != nil {
		t.Fatalf("FetchChatMessages: %v", err)
	}
}

func TestClient_FetchRoomMessagesRoutes(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode([]campuschat.Message{})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	ctx := context.Background()
	if _, err := client.FetchRoomMessages(ctx, campuschat.ChatRoom("c1"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := client.FetchRoomMessages(ctx, campuschat.GroupRoom("g1"), nil); err != nil {
		t.Fatal(err)
	}
	if paths[0] != "/chats/c1/messages" || paths[1] != "/group-chats/g1/messages" {
		t.Fatalf("paths = %v", paths)
	}
}

func TestClient_SendMessageJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var payload campuschat.SendPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.Content != "hello" || payload.MessageType != "text" {
			t.Errorf("payload = %+v", payload)
		}
		json.NewEncoder(w).Encode(campuschat.Message{
			ID: "srv-1", ChatID: "c1", Content: payload.Content,
			MessageType: payload.MessageType, CreatedAt: "2026-01-02T10:00:00Z",
		})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	msg, err := client.SendChatMessage(context.Background(), "c1", campuschat.SendPayload{Content: "hello"}, nil)
	if err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	if msg.ID != "srv-1" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestClient_SendMessageMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("content"); got != "see attached" {
			t.Errorf("content = %q", got)
		}
		if got := r.FormValue("message_type"); got != "attachment" {
			t.Errorf("message_type = %q, want attachment default", got)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Fatalf("expected 2 files, got %d", len(files))
		}
		if files[0].Filename != "notes.pdf" {
			t.Errorf("filename = %q", files[0].Filename)
		}
		f, _ := files[1].Open()
		defer f.Close()
		var buf bytes.Buffer
		buf.ReadFrom(f)
		if buf.String() != "img-bytes" {
			t.Errorf("file content = %q", buf.String())
		}
		json.NewEncoder(w).Encode(campuschat.Message{ID: "srv-2", GroupID: "g1", MessageType: "attachment"})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	msg, err := client.SendGroupMessage(context.Background(), "g1",
		campuschat.SendPayload{Content: "see attached"},
		[]campuschat.AttachmentFile{
			{Name: "notes.pdf", Data: []byte("pdf-bytes")},
			{Name: "photo.png", Data: []byte("img-bytes")},
		})
	if err != nil {
		t.Fatalf("SendGroupMessage: %v", err)
	}
	if msg.ID != "srv-2" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestClient_AttachmentValidationBeforeNetwork(t *testing.T) {
	// No server: validation must reject before any request is made.
	client := campuschat.NewClient("http://127.0.0.1:0", "tok")

	six := make([]campuschat.AttachmentFile, 6)
	for i := range six {
		six[i] = campuschat.AttachmentFile{Name: "f", Data: []byte("x")}
	}
	_, err := client.SendChatMessage(context.Background(), "c1", campuschat.SendPayload{}, six)
	if !errors.Is(err, campuschat.ErrTooManyAttachments) {
		t.Fatalf("err = %v, want ErrTooManyAttachments", err)
	}

	big := []campuschat.AttachmentFile{{Name: "huge.bin", Data: make([]byte, campuschat.MaxAttachmentSize+1)}}
	_, err = client.SendChatMessage(context.Background(), "c1", campuschat.SendPayload{}, big)
	if !errors.Is(err, campuschat.ErrAttachmentTooLarge) {
		t.Fatalf("err = %v, want ErrAttachmentTooLarge", err)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "not_a_member",
			"message": "you are not a member of this group",
		})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	_, err := client.ListChats(context.Background())

	var apiErr *campuschat.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "not_a_member" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestClient_SearchParticipants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/participants" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("search"); got != "ali" {
			t.Errorf("search = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"participants": []campuschat.Participant{{ID: "u2", Name: "Alice"}},
		})
	}))
	defer srv.Close()

	client := campuschat.NewClient(srv.URL, "tok")
	got, err := client.SearchParticipants(context.Background(), "ali", 10)
	if err != nil {
		t.Fatalf("SearchParticipants: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Alice" {
		t.Fatalf("participants = %+v", got)
	}
}

func TestExtractParticipant(t *testing.T) {
	session := campuschat.ChatSession{
		ID:           "c1",
		Participants: []string{"me", "u2"},
		ParticipantMeta: []campuschat.ParticipantMeta{
			{UserID: "me", Name: "Self"},
			{UserID: "u2", Name: "Alice", PhotoURL: "https://cdn/x.png", Role: "student"},
		},
	}
	info := campuschat.ExtractParticipant(session, "me")
	if info.ID != "u2" || info.Name != "Alice" {
		t.Fatalf("info = %+v", info)
	}
	if info.Avatar != "https://cdn/x.png" {
		t.Errorf("avatar fallback failed: %q", info.Avatar)
	}

	// Session with no usable metadata still yields a display name.
	bare := campuschat.ChatSession{ID: "c2", Participants: []string{"me", "u3"}}
	info = campuschat.ExtractParticipant(bare, "me")
	if info.ID != "u3" || info.Name == "" {
		t.Fatalf("bare info = %+v", info)
	}
}
