package campuschat

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError is a non-2xx response from the REST gateway.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// ParticipantMeta is the display metadata the backend attaches to each
// session participant. Field availability varies by account type, hence the
// generous set of optional fields.
type ParticipantMeta struct {
	UserID     string `json:"user_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
	StudentImg string `json:"student_img,omitempty"`
}

// ChatSession is a 1:1 conversation record. The backend creates it on first
// contact between two users and refreshes the last-message fields on every
// new message.
type ChatSession struct {
	ID              string            `json:"id"`
	Participants    []string          `json:"participants"`
	ParticipantMeta []ParticipantMeta `json:"participant_meta,omitempty"`
	LastMessage     *Message          `json:"last_message,omitempty"`
	LastMessageAt   string            `json:"last_message_at,omitempty"`
}

// GroupChat is a staff-created group conversation. Membership is fixed at
// creation.
type GroupChat struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	CourseID      string            `json:"course_id,omitempty"`
	SubjectID     string            `json:"subject_id,omitempty"`
	Semester      string            `json:"semester,omitempty"`
	MemberIDs     []string          `json:"member_ids"`
	MemberMeta    []ParticipantMeta `json:"member_meta,omitempty"`
	LastMessage   *Message          `json:"last_message,omitempty"`
	LastMessageAt string            `json:"last_message_at,omitempty"`
}

// Attachment is a stored file reference on a message.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Message is one chat message. Exactly one of ChatID / GroupID is set.
// Messages are immutable apart from monotonic growth of ReadBy.
type Message struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id,omitempty"`
	GroupID     string         `json:"group_id,omitempty"`
	SenderID    string         `json:"sender_id"`
	Content     string         `json:"content,omitempty"`
	MessageType string         `json:"message_type"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   string         `json:"created_at"`
	ReadBy      []string       `json:"read_by,omitempty"`
}

// Room returns the key of the room this message belongs to.
func (m Message) Room() RoomKey {
	if m.GroupID != "" {
		return GroupRoom(m.GroupID)
	}
	return ChatRoom(m.ChatID)
}

// ReadByUser reports whether userID is in the read set.
func (m Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ============================================================================
// Request / Option Types
// ============================================================================

// SendPayload is the body of an outgoing message.
type SendPayload struct {
	Content     string         `json:"content,omitempty"`
	MessageType string         `json:"message_type"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// AttachmentFile is an in-memory file to attach to an outgoing message.
type AttachmentFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// PageOptions selects a history page. Before is the exclusive upper
// created_at bound; empty means the most recent page.
type PageOptions struct {
	Before string
	Limit  int
}

// StartChatOptions opens (or fetches) the 1:1 session with a participant.
type StartChatOptions struct {
	ParticipantID   string          `json:"participant_id"`
	ParticipantMeta ParticipantMeta `json:"participant_meta"`
}

// CreateGroupOptions creates a group chat.
type CreateGroupOptions struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	CourseID    string            `json:"course_id,omitempty"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Semester    string            `json:"semester,omitempty"`
	MemberIDs   []string          `json:"member_ids"`
	MemberMeta  []ParticipantMeta `json:"member_meta,omitempty"`
}

// Participant is a directory search hit.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// ============================================================================
// Socket Event Payloads
// ============================================================================

// Envelope is the wire format for all socket traffic, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedPayload is the initial snapshot sent by the server right after a
// successful handshake.
type ConnectedPayload struct {
	UserID      string   `json:"user_id"`
	OnlineUsers []string `json:"online_users"`
}

// StatusPayload is an online/offline presence delta.
type StatusPayload struct {
	UserID string `json:"user_id"`
	Event  string `json:"event"` // "online" | "offline"
}

// TypingPayload is a typing indicator, inbound or outbound. Room is the
// serialized RoomKey.
type TypingPayload struct {
	Room     string `json:"room"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptPayload marks a set of messages read. Room is the serialized
// RoomKey; UserID is set on inbound receipts only.
type ReadReceiptPayload struct {
	Room       string   `json:"room"`
	MessageIDs []string `json:"message_ids"`
	UserID     string   `json:"user_id,omitempty"`
}

// joinPayload carries the room id for join/leave commands.
type joinPayload struct {
	ChatID  string `json:"chat_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

// ============================================================================
// Helpers
// ============================================================================

// ParticipantInfo is the resolved counterpart of a 1:1 session, for display.
type ParticipantInfo struct {
	ID     string
	Name   string
	Email  string
	Avatar string
	Role   string
	Meta   ParticipantMeta
}

// ExtractParticipant resolves the "other side" of a direct chat for the given
// current user: the first participant id that is not ours, plus whatever
// display metadata the session carries for it.
func ExtractParticipant(session ChatSession, currentUserID string) ParticipantInfo {
	otherID := ""
	for _, id := range session.Participants {
		if id != currentUserID {
			otherID = id
			break
		}
	}
	if otherID == "" && len(session.Participants) > 0 {
		otherID = session.Participants[0]
	}

	var meta ParticipantMeta
	for _, m := range session.ParticipantMeta {
		if m.UserID == otherID {
			meta = m
			break
		}
	}
	if meta == (ParticipantMeta{}) && len(session.ParticipantMeta) > 0 {
		for _, m := range session.ParticipantMeta {
			if m.UserID != currentUserID {
				meta = m
				break
			}
		}
	}

	name := meta.Name
	if name == "" {
		name = meta.Email
	}
	if name == "" {
		name = "Conversation"
	}
	avatar := meta.Avatar
	if avatar == "" {
		avatar = meta.PhotoURL
	}
	if avatar == "" {
		avatar = meta.StudentImg
	}

	return ParticipantInfo{
		ID:     otherID,
		Name:   name,
		Email:  meta.Email,
		Avatar: avatar,
		Role:   meta.Role,
		Meta:   meta,
	}
}
