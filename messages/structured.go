package messages

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
)

// Role identifies who produced a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// BreakdownEntry glosses one word of a Japanese reply for a Spanish
// speaker.
type BreakdownEntry struct {
	Word    string `json:"word"`
	Romaji  string `json:"romaji"`
	Spanish string `json:"spanish"`
}

// ChatMessage is one finalized conversation entry. Text may contain
// ruby annotation markup; use StripRuby before sending it to a
// speech synthesizer or any plain-text surface.
type ChatMessage struct {
	Role      Role             `json:"role"`
	Text      string           `json:"text"`
	Speech    string           `json:"speech,omitempty"`
	Romaji    string           `json:"romaji,omitempty"`
	Breakdown []BreakdownEntry `json:"breakdown,omitempty"`
}

// Format selects which layout the model is instructed to reply in.
type Format int

const (
	FormatJSON Format = iota
	FormatDelimited
)

func (f Format) String() string {
	if f == FormatDelimited {
		return "delimited"
	}
	return "json"
}

// ParseFormat maps a configuration value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "delimited":
		return FormatDelimited, nil
	}
	return FormatJSON, fmt.Errorf("unknown response format %q", s)
}

// structuredWire mirrors the JSON layout the model is prompted to emit.
// Older prompts used japanese/romaji field names, so both spellings are
// accepted.
type structuredWire struct {
	DisplayText string          `json:"displayText"`
	Japanese    string          `json:"japanese"`
	SpeechText  string          `json:"speechText"`
	RomajiText  string          `json:"romajiText"`
	Romaji      string          `json:"romaji"`
	Breakdown   []breakdownWire `json:"breakdown"`
}

type breakdownWire struct {
	Word    string `json:"word"`
	Romaji  string `json:"romaji"`
	Spanish string `json:"spanish"`
}

// ParseResponse turns a raw model reply into a ChatMessage according to
// the configured format. The returned message is always usable; a
// non-nil error reports that the payload did not match the format and a
// fallback interpretation was applied. Role is left for the caller.
func ParseResponse(payload string, format Format) (ChatMessage, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return ChatMessage{}, nil
	}

	if format == FormatDelimited {
		// Models under load sometimes revert to the JSON layout.
		if body := stripCodeFence(trimmed); strings.HasPrefix(body, "{") {
			if msg, ok := tryJSON(body); ok {
				return msg, fmt.Errorf("delimited response carried a JSON payload")
			}
		}
		return parseDelimited(trimmed), nil
	}

	body := stripCodeFence(trimmed)
	if msg, ok := tryJSON(body); ok {
		return msg, nil
	}
	if looksDelimited(trimmed) {
		return parseDelimited(trimmed), fmt.Errorf("json response used the delimited layout")
	}
	return ChatMessage{Text: trimmed}, fmt.Errorf("response is not valid structured json")
}

func tryJSON(body string) (ChatMessage, bool) {
	if !strings.HasPrefix(body, "{") {
		return ChatMessage{}, false
	}
	var wire structuredWire
	if err := sonic.UnmarshalString(body, &wire); err != nil {
		return ChatMessage{}, false
	}
	display := wire.DisplayText
	if display == "" {
		display = wire.Japanese
	}
	display = strings.TrimSpace(display)
	if display == "" {
		return ChatMessage{}, false
	}
	romaji := wire.RomajiText
	if romaji == "" {
		romaji = wire.Romaji
	}
	msg := ChatMessage{
		Text:   display,
		Speech: strings.TrimSpace(wire.SpeechText),
		Romaji: strings.TrimSpace(romaji),
	}
	for _, b := range wire.Breakdown {
		entry := BreakdownEntry{
			Word:    strings.TrimSpace(b.Word),
			Romaji:  strings.TrimSpace(b.Romaji),
			Spanish: strings.TrimSpace(b.Spanish),
		}
		if entry.Word == "" || entry.Romaji == "" || entry.Spanish == "" {
			continue
		}
		msg.Breakdown = append(msg.Breakdown, entry)
	}
	return msg, true
}

// parseDelimited reads the plain-text layout: the reply text, then
// sections separated by "---" lines carrying a "Romaji:" line and a
// "Breakdown:" table of "word | romaji | spanish" rows.
func parseDelimited(s string) ChatMessage {
	sections := strings.Split(s, "---")
	msg := ChatMessage{Text: strings.TrimSpace(sections[0])}

	inBreakdown := false
	for _, section := range sections[1:] {
		for _, line := range strings.Split(section, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.HasPrefix(line, "Romaji:"):
				msg.Romaji = strings.TrimSpace(strings.TrimPrefix(line, "Romaji:"))
				inBreakdown = false
			case strings.HasPrefix(line, "Breakdown:"):
				inBreakdown = true
			case inBreakdown && strings.Contains(line, "|"):
				if entry, ok := parseBreakdownRow(line); ok {
					msg.Breakdown = append(msg.Breakdown, entry)
				}
			}
		}
	}
	return msg
}

// parseBreakdownRow splits a "word | romaji | spanish" table row. Rows
// with fewer than three non-empty cells are dropped.
func parseBreakdownRow(line string) (BreakdownEntry, bool) {
	var cells []string
	for _, f := range strings.Split(line, "|") {
		if f = strings.TrimSpace(f); f != "" {
			cells = append(cells, f)
		}
	}
	if len(cells) < 3 {
		return BreakdownEntry{}, false
	}
	return BreakdownEntry{Word: cells[0], Romaji: cells[1], Spanish: cells[2]}, true
}

func looksDelimited(s string) bool {
	return strings.Contains(s, "---") ||
		strings.Contains(s, "Romaji:") ||
		strings.Contains(s, "Breakdown:")
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a json language tag.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var (
	rubyRT  = regexp.MustCompile(`<rt>.*?</rt>`)
	rubyRP  = regexp.MustCompile(`<rp>.*?</rp>`)
	rubyTag = regexp.MustCompile(`</?ruby>`)
)

// StripRuby removes ruby annotation markup, keeping only the base text.
// "<ruby>日本語<rt>にほんご</rt></ruby>" becomes "日本語".
func StripRuby(s string) string {
	s = rubyRT.ReplaceAllString(s, "")
	s = rubyRP.ReplaceAllString(s, "")
	return rubyTag.ReplaceAllString(s, "")
}
