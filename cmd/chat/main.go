// Command chat is a text-only REPL against the tutor, for practicing
// reading and writing without a microphone.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/gemini"
	"github.com/kaiwalabs/kaiwa/logging"
	"github.com/kaiwalabs/kaiwa/messages"
	"github.com/kaiwalabs/kaiwa/session"
)

func main() {
	level := flag.String("level", "beginner", "proficiency level (beginner, intermediate, advanced)")
	model := flag.String("model", "", "chat model override")
	format := flag.String("format", "json", "reply format (json or delimited)")
	target := flag.String("target", "Japanese", "language to practice")
	native := flag.String("native", "Spanish", "language explanations are given in")
	flag.Parse()

	logging.Setup("warn", "console")

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY not set")
	}

	replyFormat, err := messages.ParseFormat(*format)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid format")
	}

	client, err := gemini.NewAPIClient(context.Background(), apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("client setup failed")
	}
	chat := gemini.NewChatClient(client, *model)
	instruction := session.BuildSystemInstruction(*target, *native, *level, replyFormat)

	fmt.Println("Chat with your tutor. An empty line or Ctrl-D quits.")
	fmt.Println()
	fmt.Println("Yuki: " + session.GreetingLine)

	var history []messages.ChatMessage
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		raw, err := chat.Generate(ctx, instruction, history, line)
		cancel()
		if err != nil {
			fmt.Println("error:", err)
			continue
		}

		reply, perr := messages.ParseResponse(raw, replyFormat)
		if perr != nil {
			log.Debug().Err(perr).Msg("reply kept as raw text")
		}
		reply.Role = messages.RoleModel
		printReply(reply)

		history = append(history,
			messages.ChatMessage{Role: messages.RoleUser, Text: line},
			reply)
	}

	fmt.Println("\nまたね！")
}

func printReply(m messages.ChatMessage) {
	fmt.Println("\nYuki: " + messages.StripRuby(m.Text))
	if m.Romaji != "" {
		fmt.Println("      " + m.Romaji)
	}
	for _, entry := range m.Breakdown {
		fmt.Printf("      %-12s %-16s %s\n", entry.Word, entry.Romaji, entry.Spanish)
	}
}
