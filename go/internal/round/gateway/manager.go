// Package gateway fans round events out to browser observers over WebSocket.
// It is a delivery surface only: the push it provides is one of the two
// notification channels, and a dropped connection is recovered by the
// observer's poll path, never by gateway-side replay.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds WebSocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Manager tracks WebSocket connections per round type and broadcasts events
// to them.
type Manager struct {
	pools map[models.RoundType]map[*connection]bool
	mu    sync.RWMutex

	upgrader    websocket.Upgrader
	config      Config
	broadcastCh chan broadcastMessage
}

type broadcastMessage struct {
	roundType models.RoundType
	data      []byte
}

type connection struct {
	userID    string
	roundType models.RoundType
	conn      *websocket.Conn
	send      chan []byte
	manager   *Manager
}

func NewManager(config Config) *Manager {
	return &Manager{
		pools: make(map[models.RoundType]map[*connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 256),
	}
}

// Start processes broadcasts until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("gateway connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway connection manager shutting down")
			m.closeAll()
			return
		case message := <-m.broadcastCh:
			m.deliver(message)
		}
	}
}

// Broadcast queues an event for every connection watching the round type.
func (m *Manager) Broadcast(roundType models.RoundType, data []byte) {
	select {
	case m.broadcastCh <- broadcastMessage{roundType: roundType, data: data}:
	default:
		log.Warn().Str("round_type", string(roundType)).Msg("broadcast queue full; dropping event")
	}
}

// ServeWS upgrades an HTTP request into a round-event subscription. The
// round type comes from the "type" query parameter.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	roundType := models.RoundType(r.URL.Query().Get("type"))
	if roundType != models.RoundTypeWheel && roundType != models.RoundTypeCoinflip {
		http.Error(w, "unknown round type", http.StatusBadRequest)
		return
	}

	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &connection{
		userID:    r.URL.Query().Get("user"),
		roundType: roundType,
		conn:      wsConn,
		send:      make(chan []byte, 64),
		manager:   m,
	}
	m.register(c)

	go c.writePump()
	go c.readPump()
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[c.roundType]
	if !ok {
		pool = make(map[*connection]bool)
		m.pools[c.roundType] = pool
	}
	pool[c] = true
	log.Info().
		Str("round_type", string(c.roundType)).
		Str("user_id", c.userID).
		Int("pool_size", len(pool)).
		Msg("observer connected")
}

func (m *Manager) unregister(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[c.roundType]; ok {
		if _, present := pool[c]; present {
			delete(pool, c)
			close(c.send)
		}
	}
}

func (m *Manager) deliver(message broadcastMessage) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.pools[message.roundType] {
		select {
		case c.send <- message.data:
		default:
			// Slow consumer; the poll path recovers what it misses.
			log.Warn().Str("user_id", c.userID).Msg("dropping event for slow observer")
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		for c := range pool {
			close(c.send)
			delete(pool, c)
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	for {
		// Observers only listen; reads exist to detect disconnects and pongs.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
