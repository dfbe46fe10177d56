package functions

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// VocabularyEntry is one word of a themed lesson list.
type VocabularyEntry struct {
	Word    string `json:"word"`
	Romaji  string `json:"romaji"`
	Spanish string `json:"spanish"`
}

// LookupVocabularyFunctionDeclaration returns the function declaration for Gemini
func LookupVocabularyFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name: "LookupVocabulary",
		Description: "Look up a themed Japanese vocabulary list for the student, " +
			"with romaji readings and Spanish translations.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"topic": {
					Type:        genai.TypeString,
					Description: "Lesson topic, for example greetings, food, travel or numbers",
				},
				"level": {
					Type:        genai.TypeString,
					Description: "Student proficiency: beginner, intermediate or advanced",
				},
			},
			Required: []string{"topic"},
		},
	}
}

var vocabulary = map[string][]VocabularyEntry{
	"greetings": {
		{Word: "こんにちは", Romaji: "konnichiwa", Spanish: "hola"},
		{Word: "おはようございます", Romaji: "ohayou gozaimasu", Spanish: "buenos días"},
		{Word: "こんばんは", Romaji: "konbanwa", Spanish: "buenas noches"},
		{Word: "ありがとうございます", Romaji: "arigatou gozaimasu", Spanish: "muchas gracias"},
		{Word: "すみません", Romaji: "sumimasen", Spanish: "disculpe, perdón"},
		{Word: "はじめまして", Romaji: "hajimemashite", Spanish: "encantado de conocerle"},
		{Word: "さようなら", Romaji: "sayounara", Spanish: "adiós"},
	},
	"food": {
		{Word: "ご飯", Romaji: "gohan", Spanish: "arroz, comida"},
		{Word: "水", Romaji: "mizu", Spanish: "agua"},
		{Word: "お茶", Romaji: "ocha", Spanish: "té"},
		{Word: "魚", Romaji: "sakana", Spanish: "pescado"},
		{Word: "肉", Romaji: "niku", Spanish: "carne"},
		{Word: "野菜", Romaji: "yasai", Spanish: "verduras"},
		{Word: "美味しい", Romaji: "oishii", Spanish: "delicioso"},
	},
	"travel": {
		{Word: "駅", Romaji: "eki", Spanish: "estación"},
		{Word: "電車", Romaji: "densha", Spanish: "tren"},
		{Word: "空港", Romaji: "kuukou", Spanish: "aeropuerto"},
		{Word: "切符", Romaji: "kippu", Spanish: "billete"},
		{Word: "右", Romaji: "migi", Spanish: "derecha"},
		{Word: "左", Romaji: "hidari", Spanish: "izquierda"},
		{Word: "どこですか", Romaji: "doko desu ka", Spanish: "¿dónde está?"},
	},
	"numbers": {
		{Word: "一", Romaji: "ichi", Spanish: "uno"},
		{Word: "二", Romaji: "ni", Spanish: "dos"},
		{Word: "三", Romaji: "san", Spanish: "tres"},
		{Word: "四", Romaji: "yon", Spanish: "cuatro"},
		{Word: "五", Romaji: "go", Spanish: "cinco"},
		{Word: "百", Romaji: "hyaku", Spanish: "cien"},
		{Word: "千", Romaji: "sen", Spanish: "mil"},
	},
}

// entriesForLevel keeps beginner lists short so the tutor does not
// flood a new student.
func entriesForLevel(entries []VocabularyEntry, level string) []VocabularyEntry {
	limit := len(entries)
	switch level {
	case "beginner":
		limit = 5
	case "intermediate":
		limit = 7
	}
	if limit > len(entries) {
		limit = len(entries)
	}
	return entries[:limit]
}

// LookupVocabulary resolves a topic and level to a lesson list.
func LookupVocabulary(topic, level string) map[string]any {
	key := strings.ToLower(strings.TrimSpace(topic))
	entries, ok := vocabulary[key]
	if !ok {
		topics := make([]string, 0, len(vocabulary))
		for t := range vocabulary {
			topics = append(topics, t)
		}
		sort.Strings(topics)
		return map[string]any{
			"error":           "unknown topic",
			"availableTopics": topics,
		}
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "beginner"
	}
	return map[string]any{
		"topic":   key,
		"level":   level,
		"entries": entriesForLevel(entries, level),
	}
}

// Declarations lists every tool exposed to the live tutor.
func Declarations() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				LookupVocabularyFunctionDeclaration(),
			},
		},
	}
}

// Handle executes one model function call and builds its response.
func Handle(call *genai.FunctionCall) *genai.FunctionResponse {
	var result map[string]any
	switch call.Name {
	case "LookupVocabulary":
		topic, _ := call.Args["topic"].(string)
		level, _ := call.Args["level"].(string)
		result = LookupVocabulary(topic, level)
	default:
		log.Warn().Str("name", call.Name).Msg("model called an unknown function")
		result = map[string]any{"error": "unknown function"}
	}
	return &genai.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: result,
	}
}
