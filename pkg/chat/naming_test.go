package chat

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/stretchr/testify/assert"
)

func TestDeriveName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"How do I reverse a slice in Go?", "Reverse a slice in Go"},
		{"how can i deploy to kubernetes", "Deploy to kubernetes"},
		{"Please can you help me write a poem!", "Write a poem"},
		{"What are   goroutines?", "Goroutines"},
		{"tell me a joke", "Tell me a joke"},
		{"I want pizza.", "Pizza"},
		{"please?", untitledName},
		{"???", untitledName},
		{"éclairs recipe", "Éclairs recipe"},
		{"İ need help", "İ need help"},
		{"I NEED a plumber", "A plumber"},
		{"Pleased to meet you", "Pleased to meet you"},
		{"Hi", untitledName},
		{"what is Go?", untitledName},
		{"Why", "Why"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveName(tt.in))
		})
	}
}

func TestDeriveName_CapsLength(t *testing.T) {
	name := DeriveName(strings.Repeat("word ", 30))
	assert.LessOrEqual(t, utf8.RuneCountInString(name), 50)
	assert.True(t, strings.HasSuffix(name, "..."))
	assert.False(t, store.IsDefaultName(name))
}
