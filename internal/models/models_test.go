package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLeadFields_Missing(t *testing.T) {
	tests := []struct {
		name    string
		fields  LeadFields
		missing []string
	}{
		{"empty", LeadFields{}, []string{FieldName, FieldEmail, FieldPlatform}},
		{"email only missing", LeadFields{Name: "Ana", Platform: "YouTube"}, []string{FieldEmail}},
		{"name only known", LeadFields{Name: "Ana"}, []string{FieldEmail, FieldPlatform}},
		{"complete", LeadFields{Name: "Ana", Email: "ana@x.com", Platform: "YouTube"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.missing, tt.fields.Missing())
			assert.Equal(t, len(tt.missing) == 0, tt.fields.Complete())
		})
	}
}

func TestIntent_Valid(t *testing.T) {
	for _, i := range Intents {
		assert.True(t, i.Valid(), i)
	}
	assert.False(t, IntentNone.Valid())
	assert.False(t, Intent("unknown").Valid())
	assert.False(t, Intent("Greeting").Valid())
}

func TestConversationState_LastUserMessage(t *testing.T) {
	s := NewConversationState("t1")
	assert.Equal(t, "", s.LastUserMessage())

	s.AppendMessage(RoleUser, "Hi there")
	s.AppendMessage(RoleAgent, "Hello!")
	assert.Equal(t, "Hi there", s.LastUserMessage())
}

func TestConversationState_CloneIsIndependent(t *testing.T) {
	s := NewConversationState("t1")
	s.AppendMessage(RoleUser, "Hi")

	c := s.Clone()
	c.AppendMessage(RoleAgent, "Hello")
	c.Lead.Name = "Dana"

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, "", s.Lead.Name)
	assert.Len(t, c.Messages, 2)
}
