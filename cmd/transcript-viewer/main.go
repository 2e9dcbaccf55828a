// Command transcript-viewer consumes the bridge's Kafka topics and shows the
// live transcripts in a browser.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.EventType == "" || ev.SessionID == "" {
		return Event{}, errors.New("missing eventType or sessionId")
	}
	return ev, nil
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic, group string) {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group != "" {
		cfg.GroupID = group
	} else {
		// Partition reader without a consumer group works through port-forwards.
		cfg.Partition = 0
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	if group == "" {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-time.Hour)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Could not rewind to the last hour")
		}
	}
	log.Info().Str("topic", topic).Str("group", group).Msg("Consuming from Kafka")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		ev, err := decodeEvent(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Skipping malformed event")
			continue
		}

		log.Debug().
			Str("eventType", ev.EventType).
			Str("sessionId", ev.SessionID).
			Str("text", truncate(ev.Text, 40)).
			Msg("Received event")

		select {
		case hub.broadcast <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "transcripts.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "transcripts.final", "Final transcript topic")
	topicSession := flag.String("topic-session", "sessions.finalized", "Finalized session topic")
	group := flag.String("group", "", "Kafka consumer group (empty reads partition 0)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	hub := newHub()
	go hub.run()
	defer hub.stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	brokerList := strings.Split(*brokers, ",")
	for _, topic := range []string{*topicPartial, *topicFinal, *topicSession} {
		go consumeKafka(ctx, hub, brokerList, topic, *group)
	}

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("Embedded assets missing")
	}

	r := chi.NewRouter()
	r.Get("/ws", wsHandler(hub))
	r.Handle("/*", http.FileServer(http.FS(staticFS)))

	srv := &http.Server{Addr: ":" + *port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}
