// Command practice runs a voice tutoring session against the local
// microphone and speaker. Typed lines are sent as text turns; /pause,
// /resume, /end, and /quit control the session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/device"
	"github.com/kaiwalabs/kaiwa/functions"
	"github.com/kaiwalabs/kaiwa/gemini"
	"github.com/kaiwalabs/kaiwa/logging"
	"github.com/kaiwalabs/kaiwa/messages"
	"github.com/kaiwalabs/kaiwa/playback"
	"github.com/kaiwalabs/kaiwa/session"
)

func main() {
	level := flag.String("level", "beginner", "proficiency level (beginner, intermediate, advanced)")
	voice := flag.String("voice", gemini.DefaultVoice, "tutor voice")
	model := flag.String("model", "", "live model override")
	format := flag.String("format", "json", "reply format (json or delimited)")
	target := flag.String("target", "Japanese", "language to practice")
	native := flag.String("native", "Spanish", "language explanations are given in")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logging.Setup(*logLevel, "console")

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY not set")
	}

	replyFormat, err := messages.ParseFormat(*format)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid format")
	}

	speaker, err := device.NewSpeaker(audio.PlaybackFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("speaker unavailable")
	}
	defer speaker.Close()

	mic := device.NewMicrophone(audio.CaptureFormat)
	sched := playback.NewScheduler(speaker, audio.PlaybackFormat, nil)

	instruction := session.BuildSystemInstruction(*target, *native, *level, replyFormat)
	dial := func(ctx context.Context) (session.Transport, error) {
		t, err := gemini.Dial(ctx, apiKey, gemini.LiveConfig{
			Model:               *model,
			Voice:               *voice,
			SystemInstruction:   instruction,
			Tools:               functions.Declarations(),
			InputTranscription:  true,
			OutputTranscription: true,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	ctrl := session.NewController(session.Config{
		ID:          "local",
		Format:      replyFormat,
		OpeningText: session.OpeningText,
	}, dial, mic, sched, session.Callbacks{
		OnState: func(s session.State) {
			fmt.Printf("\n[%s]\n", s)
		},
		OnTranscript: func(role messages.Role, text string) {
			fmt.Printf("\r%s: %s", rolePrefix(role), text)
		},
		OnMessage: printMessage,
		OnError: func(serr *session.Error) {
			fmt.Printf("\n%s\n", serr.UserMessage())
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctrl.Start(ctx)

	done := make(chan struct{})
	go readCommands(ctrl, done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-done:
	}

	ctrl.Stop()
	fmt.Println("\nまた練習しましょう！")
}

func readCommands(ctrl *session.Controller, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			return
		case "/pause":
			ctrl.Pause()
		case "/resume":
			ctrl.Resume()
		case "/end":
			if err := ctrl.EndTurn(); err != nil {
				fmt.Println(err)
			}
		default:
			if err := ctrl.SendText(line); err != nil {
				fmt.Println(err)
			}
		}
	}
}

func rolePrefix(role messages.Role) string {
	if role == messages.RoleUser {
		return "You"
	}
	return "Yuki"
}

func printMessage(m messages.ChatMessage) {
	if m.Role == messages.RoleUser {
		fmt.Printf("\nYou: %s\n", m.Text)
		return
	}

	fmt.Printf("\nYuki: %s\n", messages.StripRuby(m.Text))
	if m.Romaji != "" {
		fmt.Printf("      %s\n", m.Romaji)
	}
	for _, entry := range m.Breakdown {
		fmt.Printf("      %-12s %-16s %s\n", entry.Word, entry.Romaji, entry.Spanish)
	}
}
