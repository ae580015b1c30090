package models

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message represents a single message in a conversation
type Message struct {
	Role      Role      `json:"role"`      // "user" or "agent"
	Content   string    `json:"content"`   // Message content
	Timestamp time.Time `json:"timestamp"` // When the message was created
}

// Intent is the classification label for the newest user message
type Intent string

const (
	IntentNone           Intent = ""
	IntentGreeting       Intent = "greeting"
	IntentProductInquiry Intent = "product_inquiry"
	IntentHighIntent     Intent = "high_intent"
)

// Intents lists every valid label in prompt order
var Intents = []Intent{IntentGreeting, IntentProductInquiry, IntentHighIntent}

// Valid reports whether i is one of the three known labels
func (i Intent) Valid() bool {
	switch i {
	case IntentGreeting, IntentProductInquiry, IntentHighIntent:
		return true
	}
	return false
}

// Lead field names, in the fixed order they are requested from the user
const (
	FieldName     = "name"
	FieldEmail    = "email"
	FieldPlatform = "platform"
)

// LeadFields holds the contact details collected so far. Empty means unknown.
type LeadFields struct {
	Name     string `json:"user_name,omitempty"`
	Email    string `json:"user_email,omitempty"`
	Platform string `json:"user_platform,omitempty"`
}

// Complete reports whether name, email and platform are all known
func (f LeadFields) Complete() bool {
	return f.Name != "" && f.Email != "" && f.Platform != ""
}

// Missing returns the unknown fields in the order name, email, platform
func (f LeadFields) Missing() []string {
	var missing []string
	if f.Name == "" {
		missing = append(missing, FieldName)
	}
	if f.Email == "" {
		missing = append(missing, FieldEmail)
	}
	if f.Platform == "" {
		missing = append(missing, FieldPlatform)
	}
	return missing
}

// ConversationState is the per-thread record persisted between turns
type ConversationState struct {
	ThreadID string     `json:"thread_id"`
	Messages []Message  `json:"messages"`
	Intent   Intent     `json:"intent,omitempty"`
	Lead     LeadFields `json:"lead"`

	// KnowledgeContext is scratch space for the current turn only
	KnowledgeContext string `json:"-"`

	Turns        int       `json:"turns"`
	LeadCaptured bool      `json:"lead_captured"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewConversationState creates an empty state for a thread
func NewConversationState(threadID string) *ConversationState {
	now := time.Now()
	return &ConversationState{
		ThreadID:  threadID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendMessage adds a message to the end of the conversation
func (s *ConversationState) AppendMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// LastUserMessage returns the newest user message, or "" if there is none
func (s *ConversationState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Clone returns a deep copy so a failed turn never leaks into stored state
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Lead is a completed lead handed to the capture collaborators
type Lead struct {
	ThreadID   string    `json:"thread_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Platform   string    `json:"platform"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewLead builds a Lead from complete fields
func NewLead(threadID string, f LeadFields) Lead {
	return Lead{
		ThreadID:   threadID,
		Name:       f.Name,
		Email:      f.Email,
		Platform:   f.Platform,
		CapturedAt: time.Now(),
	}
}
