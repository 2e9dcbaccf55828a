// Command testclient sends three synthetic audio chunks to the bridge and
// prints every frame until the session ends.
package main

import (
	"bytes"
	"flag"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	server := flag.String("server", "ws://localhost:8080/ws?session_id=test-session", "Bridge WebSocket URL")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	conn, _, err := websocket.DefaultDialer.Dial(*server, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Msg("Connected to server")

	// 100 ms of non-silent 16 kHz 16-bit audio each
	chunks := [][]byte{
		bytes.Repeat([]byte{0x10, 0x00}, 1600),
		bytes.Repeat([]byte{0x20, 0x00}, 1600),
		bytes.Repeat([]byte{0x30, 0x00}, 1600),
	}
	for i, c := range chunks {
		log.Info().Int("chunk", i+1).Int("bytes", len(c)).Msg("Sending audio")
		if err := conn.WriteMessage(websocket.BinaryMessage, c); err != nil {
			log.Fatal().Err(err).Msg("Failed to send audio")
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("STOP")); err != nil {
		log.Fatal().Err(err).Msg("Failed to send STOP")
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Msg("Connection closed")
			return
		}
		log.Info().Str("frame", string(data)).Msg("Received")
	}
}
