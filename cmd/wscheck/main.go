// Command wscheck exercises a running gateway end to end: it starts a
// session, streams a PCM or WAV file as microphone audio, ends the
// turn, and plays whatever the tutor says back.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/device"
	"github.com/kaiwalabs/kaiwa/messages"
)

// serverEnvelope mirrors the gateway's outbound frame with the payload
// left raw so each type can be decoded on demand.
type serverEnvelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type clientMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "gateway WebSocket URL")
	audioFile := flag.String("file", "", "PCM16 or WAV file to send as microphone audio")
	flag.Parse()

	log.Printf("connecting to %s...", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Println("connected")

	speaker, err := device.NewSpeaker(audio.PlaybackFormat)
	if err != nil {
		log.Fatalf("failed to open speaker: %v", err)
	}
	defer speaker.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	recording := make(chan struct{})
	var recordingOnce sync.Once

	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Println("read error:", err)
				return
			}

			var msg serverEnvelope
			if err := sonic.Unmarshal(message, &msg); err != nil {
				log.Println("parse error:", err)
				continue
			}

			switch msg.Type {
			case "audio":
				var payload messages.AudioResponsePayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				pcm, err := base64.StdEncoding.DecodeString(payload.Data)
				if err == nil {
					log.Printf("playing %d bytes of tutor audio", len(pcm))
					_ = speaker.Play(pcm)
				}

			case "transcript":
				var payload messages.TranscriptPayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				fmt.Printf("\r%s: %s", payload.Role, payload.Text)

			case "chat":
				var payload messages.ChatMessage
				_ = sonic.Unmarshal(msg.Payload, &payload)
				fmt.Printf("\n%s> %s\n", payload.Role, payload.Text)

			case "state":
				var payload messages.StatePayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				log.Printf("state: %s", payload.State)
				if payload.State == "recording" {
					recordingOnce.Do(func() { close(recording) })
				}

			case "status":
				var payload messages.StatusPayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				log.Printf("status: %s %s", payload.Status, payload.Message)

			case "error":
				var payload messages.ErrorPayload
				_ = sonic.Unmarshal(msg.Payload, &payload)
				log.Printf("error [%s]: %s", payload.Code, payload.Message)
			}
		}
	}()

	send := func(msg clientMessage) {
		data, err := sonic.Marshal(msg)
		if err != nil {
			log.Fatalf("marshal error: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Fatalf("send error: %v", err)
		}
	}

	send(clientMessage{Type: "control", Payload: map[string]string{"action": "start"}})

	select {
	case <-recording:
	case <-done:
		log.Fatal("connection closed before the session started")
	case <-time.After(15 * time.Second):
		log.Fatal("timeout waiting for the session to start")
	}

	if *audioFile != "" {
		streamFile(conn, *audioFile)
		send(clientMessage{Type: "control", Payload: map[string]string{"action": "end_turn"}})
		log.Println("audio sent, waiting for the tutor...")
	} else {
		log.Println("no -file given; listening only")
	}

	select {
	case <-done:
		log.Println("connection closed")
	case <-interrupt:
		log.Println("interrupted, closing...")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(60 * time.Second):
		log.Println("timeout waiting for response")
	}
}

// streamFile sends the file as binary frames at a real-time pace.
func streamFile(conn *websocket.Conn, path string) {
	pcm, err := loadAudioFile(path)
	if err != nil {
		log.Fatalf("failed to load audio: %v", err)
	}

	chunkSize := 3200 // 100ms at 16kHz
	total := (len(pcm) + chunkSize - 1) / chunkSize
	for i := 0; i < len(pcm); i += chunkSize {
		end := i + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[i:end]); err != nil {
			log.Printf("send error: %v", err)
			return
		}
		log.Printf("sent chunk %d/%d (%d bytes)", i/chunkSize+1, total, end-i)
		time.Sleep(100 * time.Millisecond)
	}
}

// loadAudioFile loads a PCM or WAV file and returns raw PCM bytes.
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Skip the 44-byte header of a standard WAV file.
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		return data[44:], nil
	}
	return data, nil
}
