package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the frame exchanged over the socket in both directions.
// Clients send type "query"; the server answers with "status", "error"
// or "answer" frames.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Scope   string      `json:"scope,omitempty"`
	TopK    int         `json:"top_k,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SourceRef identifies one retrieved chunk backing an answer.
type SourceRef struct {
	ChunkID    int64   `json:"chunk_id"`
	Similarity float32 `json:"similarity"`
}

// QueryRetriever is the read path the server exposes.
type QueryRetriever interface {
	Retrieve(ctx context.Context, vector []float32, scope string, topK int) ([]models.ScoredChunk, error)
}

// ChunkFetcher resolves retrieved IDs to their content.
type ChunkFetcher interface {
	FetchByIDs(ctx context.Context, ids []int64) ([]models.Chunk, error)
}

type Config struct {
	Addr        string
	DefaultTopK int
	Logger      *logrus.Logger
}

// WSServer serves retrieval queries over WebSocket. Each query names its
// own scope; connections are not bound to a tenant.
type WSServer struct {
	config    Config
	embedder  types.Embedder
	retriever QueryRetriever
	fetcher   ChunkFetcher
	generator types.Generator
	log       *logrus.Logger
}

func NewWSServer(embedder types.Embedder, retriever QueryRetriever, fetcher ChunkFetcher, generator types.Generator, config Config) (*WSServer, error) {
	if embedder == nil || retriever == nil || fetcher == nil || generator == nil {
		return nil, fmt.Errorf("server requires embedder, retriever, fetcher and generator")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.DefaultTopK == 0 {
		config.DefaultTopK = 5
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &WSServer{
		config:    config,
		embedder:  embedder,
		retriever: retriever,
		fetcher:   fetcher,
		generator: generator,
		log:       config.Logger,
	}, nil
}

// Run serves until the context is cancelled.
func (s *WSServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: s.config.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.config.Addr).Info("query server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *WSServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "malformed message"})
			continue
		}

		switch msg.Type {
		case "query":
			s.handleQuery(r.Context(), conn, msg)
		default:
			s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (s *WSServer) handleQuery(ctx context.Context, conn *websocket.Conn, msg Message) {
	if msg.Content == "" {
		s.sendMessage(conn, Message{Type: "error", Content: "query text cannot be empty"})
		return
	}

	scope := msg.Scope
	if scope == "" {
		scope = models.SharedScope
	}
	topK := msg.TopK
	if topK <= 0 {
		topK = s.config.DefaultTopK
	}

	s.sendMessage(conn, Message{Type: "status", Content: "searching"})

	vector, err := s.embedder.EmbedQuery(ctx, msg.Content)
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("failed to embed query: %v", err)})
		return
	}

	scored, err := s.retriever.Retrieve(ctx, vector, scope, topK)
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("retrieval failed: %v", err)})
		return
	}

	ids := make([]int64, len(scored))
	sources := make([]SourceRef, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ID
		sources[i] = SourceRef{ChunkID: sc.ID, Similarity: sc.Similarity}
	}

	chunks, err := s.fetcher.FetchByIDs(ctx, ids)
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("failed to fetch chunks: %v", err)})
		return
	}

	contexts := make([]string, len(chunks))
	for i, c := range chunks {
		contexts[i] = c.Content
	}

	answer, err := s.generator.GenerateAnswer(ctx, msg.Content, contexts)
	if err != nil {
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("generation failed: %v", err)})
		return
	}

	s.sendMessage(conn, Message{Type: "answer", Content: answer, Data: sources})
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).Warn("failed to send message")
	}
}
