package messages

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseResponseJSON(t *testing.T) {
	payload := `{
		"displayText": "<ruby>日本語<rt>にほんご</rt></ruby>が好きです",
		"speechText": "にほんごがすきです",
		"romajiText": "nihongo ga suki desu",
		"breakdown": [
			{"word": "日本語", "romaji": "nihongo", "spanish": "japonés"},
			{"word": "好き", "romaji": "suki", "spanish": "gustar"}
		]
	}`

	msg, err := ParseResponse(payload, FormatJSON)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if !strings.Contains(msg.Text, "<rt>") {
		t.Errorf("Text = %q, want ruby markup preserved", msg.Text)
	}
	if msg.Speech != "にほんごがすきです" {
		t.Errorf("Speech = %q, want %q", msg.Speech, "にほんごがすきです")
	}
	if msg.Romaji != "nihongo ga suki desu" {
		t.Errorf("Romaji = %q, want %q", msg.Romaji, "nihongo ga suki desu")
	}
	want := []BreakdownEntry{
		{Word: "日本語", Romaji: "nihongo", Spanish: "japonés"},
		{Word: "好き", Romaji: "suki", Spanish: "gustar"},
	}
	if !reflect.DeepEqual(msg.Breakdown, want) {
		t.Errorf("Breakdown = %+v, want %+v", msg.Breakdown, want)
	}
}

func TestParseResponseJSONAlternateKeys(t *testing.T) {
	payload := `{"japanese": "おはよう", "romaji": "ohayou"}`

	msg, err := ParseResponse(payload, FormatJSON)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if msg.Text != "おはよう" {
		t.Errorf("Text = %q, want %q", msg.Text, "おはよう")
	}
	if msg.Romaji != "ohayou" {
		t.Errorf("Romaji = %q, want %q", msg.Romaji, "ohayou")
	}
}

func TestParseResponseJSONCodeFence(t *testing.T) {
	payload := "```json\n{\"displayText\": \"はい\", \"speechText\": \"はい\"}\n```"

	msg, err := ParseResponse(payload, FormatJSON)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if msg.Text != "はい" {
		t.Errorf("Text = %q, want %q", msg.Text, "はい")
	}
}

func TestParseResponseJSONDropsIncompleteBreakdown(t *testing.T) {
	payload := `{
		"displayText": "こんにちは",
		"breakdown": [
			{"word": "こんにちは", "romaji": "", "spanish": "hola"},
			{"word": "こんにちは", "romaji": "konnichiwa", "spanish": "hola"}
		]
	}`

	msg, err := ParseResponse(payload, FormatJSON)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(msg.Breakdown) != 1 {
		t.Fatalf("Breakdown has %d entries, want 1", len(msg.Breakdown))
	}
	if msg.Breakdown[0].Romaji != "konnichiwa" {
		t.Errorf("kept entry = %+v, want the complete one", msg.Breakdown[0])
	}
}

func TestParseResponseJSONFallbackToRawText(t *testing.T) {
	payload := "すみません、もう一度言ってください。"

	msg, err := ParseResponse(payload, FormatJSON)
	if err == nil {
		t.Fatal("ParseResponse: want fallback error, got nil")
	}
	if msg.Text != payload {
		t.Errorf("Text = %q, want the raw payload", msg.Text)
	}
	if msg.Romaji != "" || len(msg.Breakdown) != 0 {
		t.Errorf("fallback message carries structure: %+v", msg)
	}
}

func TestParseResponseJSONMissingDisplayText(t *testing.T) {
	payload := `{"speechText": "はい"}`

	msg, err := ParseResponse(payload, FormatJSON)
	if err == nil {
		t.Fatal("ParseResponse: want fallback error, got nil")
	}
	if msg.Text != payload {
		t.Errorf("Text = %q, want the raw payload", msg.Text)
	}
}

func TestParseResponseDelimited(t *testing.T) {
	payload := `こんにちは、元気ですか？
---
Romaji: konnichiwa, genki desu ka?
---
Breakdown:
こんにちは | konnichiwa | hola
元気 | genki | salud, ánimo
ですか | desu ka | partícula interrogativa`

	msg, err := ParseResponse(payload, FormatDelimited)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if msg.Text != "こんにちは、元気ですか？" {
		t.Errorf("Text = %q", msg.Text)
	}
	if msg.Romaji != "konnichiwa, genki desu ka?" {
		t.Errorf("Romaji = %q", msg.Romaji)
	}
	want := []BreakdownEntry{
		{Word: "こんにちは", Romaji: "konnichiwa", Spanish: "hola"},
		{Word: "元気", Romaji: "genki", Spanish: "salud, ánimo"},
		{Word: "ですか", Romaji: "desu ka", Spanish: "partícula interrogativa"},
	}
	if !reflect.DeepEqual(msg.Breakdown, want) {
		t.Errorf("Breakdown = %+v, want %+v", msg.Breakdown, want)
	}
}

func TestParseResponseDelimitedDropsShortRows(t *testing.T) {
	payload := `やあ
---
Breakdown:
やあ | yaa | hola
欠け | | incompleto
孤独 | kodoku`

	msg, err := ParseResponse(payload, FormatDelimited)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(msg.Breakdown) != 1 {
		t.Fatalf("Breakdown has %d entries, want 1", len(msg.Breakdown))
	}
	if msg.Breakdown[0].Word != "やあ" {
		t.Errorf("kept row = %+v", msg.Breakdown[0])
	}
}

func TestParseResponseDelimitedPlainText(t *testing.T) {
	payload := "そうですね。"

	msg, err := ParseResponse(payload, FormatDelimited)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if msg.Text != "そうですね。" {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestParseResponseFormatMismatch(t *testing.T) {
	jsonPayload := `{"displayText": "やあ", "romajiText": "yaa"}`
	msg, err := ParseResponse(jsonPayload, FormatDelimited)
	if err == nil {
		t.Error("delimited parse of JSON payload: want mismatch error")
	}
	if msg.Text != "やあ" || msg.Romaji != "yaa" {
		t.Errorf("recovered message = %+v", msg)
	}

	delimitedPayload := "やあ\n---\nRomaji: yaa"
	msg, err = ParseResponse(delimitedPayload, FormatJSON)
	if err == nil {
		t.Error("json parse of delimited payload: want mismatch error")
	}
	if msg.Text != "やあ" || msg.Romaji != "yaa" {
		t.Errorf("recovered message = %+v", msg)
	}
}

func TestParseResponseEmpty(t *testing.T) {
	msg, err := ParseResponse("   \n ", FormatJSON)
	if err != nil {
		t.Errorf("ParseResponse(blank): %v", err)
	}
	if msg.Text != "" {
		t.Errorf("Text = %q, want empty", msg.Text)
	}
}

func TestStripRuby(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<ruby>日本語<rt>にほんご</rt></ruby>", "日本語"},
		{"<ruby>漢字<rp>(</rp><rt>かんじ</rt><rp>)</rp></ruby>を読む", "漢字を読む"},
		{"<ruby>今日<rt>きょう</rt></ruby>は<ruby>晴れ<rt>はれ</rt></ruby>です", "今日は晴れです"},
		{"マークアップなし", "マークアップなし"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripRuby(tt.in); got != tt.want {
			t.Errorf("StripRuby(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"delimited", FormatDelimited, false},
		{"", FormatJSON, false},
		{"xml", FormatJSON, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
