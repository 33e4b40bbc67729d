package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one inbound message of a registered type.
type Handler func(n *Node, msg Message)

// Node is an HTTP endpoint that receives relayed messages on /message and
// dispatches them by type. It also implements Transport for outbound sends.
type Node struct {
	ID      string
	Address string

	server    *http.Server
	client    *http.Client
	waitGroup sync.WaitGroup
	log       zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

// NewNode creates a node that will listen on address.
func NewNode(id, address string, log zerolog.Logger) *Node {
	return &Node{
		ID:       id,
		Address:  address,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log.With().Str("node", id).Logger(),
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler routes messages of msgType to h, replacing any previous
// handler for that type.
func (n *Node) RegisterHandler(msgType string, h Handler) {
	n.handlersMu.Lock()
	n.handlers[msgType] = h
	n.handlersMu.Unlock()
}

// Handler returns the node's HTTP routes.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", n.messageHandler)
	return mux
}

// messageHandler decodes the envelope and hands it to the handler for its type.
func (n *Node) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		n.log.Warn().Err(err).Msg("received a bad request")
		return
	}

	n.handlersMu.RLock()
	h, ok := n.handlers[msg.Type]
	n.handlersMu.RUnlock()
	if !ok {
		n.log.Debug().Str("type", msg.Type).Str("from", msg.SenderID).Msg("no handler for message type")
		http.Error(w, "unknown message type", http.StatusUnprocessableEntity)
		return
	}
	n.log.Debug().Str("type", msg.Type).Str("from", msg.SenderID).Msg("message received")
	h(n, msg)
	w.WriteHeader(http.StatusOK)
}

// Start listens on the node's address and serves until Stop.
func (n *Node) Start() error {
	listener, err := net.Listen("tcp", n.Address)
	if err != nil {
		return fmt.Errorf("node %s: listen on %s: %w", n.ID, n.Address, err)
	}
	n.Address = listener.Addr().String()
	n.server = &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	n.waitGroup.Add(1)
	go func() {
		defer n.waitGroup.Done()
		n.log.Info().Str("address", n.Address).Msg("relay server starting")
		if err := n.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error().Err(err).Msg("relay server failed")
		}
	}()
	return nil
}

// Stop shuts the server down and waits for it to exit.
func (n *Node) Stop(ctx context.Context) error {
	if n.server == nil {
		return nil
	}
	err := n.server.Shutdown(ctx)
	n.waitGroup.Wait()
	return err
}

// Send posts msg to the node listening at endpoint.
func (n *Node) Send(ctx context.Context, endpoint string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+endpoint+"/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned non-OK status: %s", resp.Status)
	}
	return nil
}
