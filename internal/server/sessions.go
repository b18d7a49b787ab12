package server

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionInfo is the metadata tracked per MCP session.
type SessionInfo struct {
	SessionID     string
	ClientName    string
	ClientVersion string
	StartedAt     time.Time
	LastActivity  time.Time
}

// SessionStore tracks live MCP sessions. Safe for concurrent use.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionInfo
	logger   *zap.Logger
}

func NewSessionStore(logger *zap.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*SessionInfo),
		logger:   logger,
	}
}

// SetSession stores or updates session information.
func (s *SessionStore) SetSession(sessionID, clientName, clientVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.sessions[sessionID] = &SessionInfo{
		SessionID:     sessionID,
		ClientName:    clientName,
		ClientVersion: clientVersion,
		StartedAt:     now,
		LastActivity:  now,
	}

	s.logger.Debug("session registered",
		zap.String("session_id", sessionID),
		zap.String("client_name", clientName),
		zap.String("client_version", clientVersion))
}

// Touch bumps the session's last-activity timestamp.
func (s *SessionStore) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.sessions[sessionID]; ok {
		info.LastActivity = time.Now()
	}
}

// GetSession returns a copy of the session info, nil when unknown.
func (s *SessionStore) GetSession(sessionID string) *SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	copied := *info
	return &copied
}

// Remove drops a session.
func (s *SessionStore) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Count returns the number of live sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
