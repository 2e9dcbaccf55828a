// Command audioclient streams a PCM WAV file to the bridge and prints the
// transcript frames it sends back.
package main

import (
	"errors"
	"flag"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SANCHES-Pedro/bq-back/internal/service/audio"
)

const chunkDuration = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080/ws", "Bridge WebSocket URL")
	sessionID := flag.String("session", "", "Session ID (generated by the server when empty)")
	realtime := flag.Bool("realtime", true, "Pace chunks at playback speed")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	format, dataSize, err := audio.ReadWAVHeader(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}
	log.Info().
		Int("sampleRate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bitsPerSample", format.BitsPerSample).
		Int("dataBytes", dataSize).
		Msg("WAV file")
	if format != audio.DefaultFormat() {
		log.Warn().Msg("Bridge expects 16 kHz mono 16-bit PCM, transcription quality may suffer")
	}

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}
	if *sessionID != "" {
		q := u.Query()
		q.Set("session_id", *sessionID)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatal().Err(err).Int("status", resp.StatusCode).Msg("Failed to connect")
		}
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()
	log.Info().Str("url", u.String()).Msg("Connected")

	ended := make(chan struct{})
	go receive(conn, ended)

	chunk := make([]byte, format.BytesFor(chunkDuration))
	if len(chunk) == 0 {
		log.Fatal().Msg("Unsupported WAV format")
	}
	var total int64
	var chunks int
	start := time.Now()

	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
				log.Fatal().Err(werr).Msg("Failed to send audio")
			}
			chunks++
			total += int64(n)
			if chunks%50 == 0 {
				log.Debug().Int("chunks", chunks).Int64("bytes", total).Msg("Streaming")
			}
			if *realtime {
				time.Sleep(chunkDuration)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
	}
	log.Info().Int("chunks", chunks).Int64("bytes", total).Dur("elapsed", time.Since(start).Round(time.Millisecond)).Msg("Finished streaming, waiting for final transcripts")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("STOP")); err != nil {
		log.Fatal().Err(err).Msg("Failed to send STOP")
	}

	select {
	case <-ended:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for the session to end")
	}
}

func receive(conn *websocket.Conn, ended chan<- struct{}) {
	defer close(ended)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Connection closed")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		text := string(data)
		switch {
		case strings.HasPrefix(text, "FINAL: "):
			log.Info().Msg(text)
		case strings.HasPrefix(text, "PARTIAL: "):
			log.Debug().Msg(text)
		case strings.HasPrefix(text, "ERROR: "), strings.HasPrefix(text, "WARNING: "):
			log.Warn().Msg(text)
		case strings.HasPrefix(text, "SESSION_ENDED:"):
			log.Info().Str("sessionId", strings.TrimPrefix(text, "SESSION_ENDED:")).Msg("Session ended")
			return
		default:
			log.Info().Msg(text)
		}
	}
}
