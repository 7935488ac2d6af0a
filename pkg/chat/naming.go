package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minNameRunes = 3
	maxNameRunes = 50
	untitledName = "Untitled Chat"
)

// Leading phrases that carry no topic. Longer phrases come first. All are
// ASCII, so a match covers the same bytes in the original message.
var namePrefixes = []string{
	"how can i",
	"how do i",
	"how to",
	"what is",
	"what are",
	"can you",
	"could you",
	"please",
	"help me",
	"i need",
	"i want",
}

// DeriveName builds a short session name from the first user message.
func DeriveName(message string) string {
	name := strings.TrimRight(strings.Join(strings.Fields(message), " "), "?!. ")

	for stripped := true; stripped; {
		stripped = false
		for _, p := range namePrefixes {
			if rest, ok := cutPrefixFold(name, p); ok {
				name = strings.TrimSpace(rest)
				stripped = true
				break
			}
		}
	}

	name = strings.TrimRight(name, "?!. ")
	name = strings.TrimLeftFunc(name, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	if utf8.RuneCountInString(name) < minNameRunes {
		return untitledName
	}

	r, size := utf8.DecodeRuneInString(name)
	name = string(unicode.ToUpper(r)) + name[size:]

	if utf8.RuneCountInString(name) > maxNameRunes {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:maxNameRunes-3])) + "..."
	}
	return name
}

// cutPrefixFold strips the ASCII phrase p from s, ignoring case, when it
// stands as whole words.
func cutPrefixFold(s, p string) (string, bool) {
	if len(s) < len(p) || !strings.EqualFold(s[:len(p)], p) {
		return s, false
	}
	rest := s[len(p):]
	if rest != "" && rest[0] != ' ' {
		return s, false
	}
	return rest, true
}
