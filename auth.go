package main

import (
    "context"
    "crypto/rand"
    "encoding/base64"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/crypto/bcrypt"
)

// sessionTTL is how long an API login stays valid.
const sessionTTL = 24 * time.Hour

var errInvalidCredentials = errors.New("invalid credentials")

// passwordCost is the bcrypt work factor for new hashes.
var passwordCost = bcrypt.DefaultCost

// decoyHash is compared against when a login names no known user, so an
// unknown name costs as much as a wrong password.
var decoyHash = sync.OnceValue(func() []byte {
    h, _ := bcrypt.GenerateFromPassword([]byte("ledlog"), passwordCost)
    return h
})

// hashPassword returns a bcrypt hash of password.  bcrypt rejects passwords
// longer than 72 bytes.
func hashPassword(password string) (string, error) {
    hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
    if err != nil {
        return "", fmt.Errorf("hash password: %w", err)
    }
    return string(hash), nil
}

// verifyPassword reports whether password matches hash.  An empty hash never
// matches but still costs one comparison.
func verifyPassword(hash, password string) bool {
    if hash == "" {
        _ = bcrypt.CompareHashAndPassword(decoyHash(), []byte(password))
        return false
    }
    return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Session is one API login.  Sessions are kept in memory; a restart logs
// everybody out.
type Session struct {
    Username string
    Expires  time.Time
}

// SessionManager hands out session IDs for the API cookie.
type SessionManager struct {
    mu       sync.RWMutex
    sessions map[string]Session
    now      func() time.Time
}

func NewSessionManager() *SessionManager {
    return &SessionManager{sessions: make(map[string]Session), now: time.Now}
}

// Create starts a session for username that lasts ttl.
func (sm *SessionManager) Create(username string, ttl time.Duration) (string, Session, error) {
    id, err := sessionID()
    if err != nil {
        return "", Session{}, err
    }
    sm.mu.Lock()
    defer sm.mu.Unlock()
    s := Session{Username: username, Expires: sm.now().Add(ttl)}
    sm.sessions[id] = s
    return id, s, nil
}

// Get returns the session for id unless it is unknown or expired.
func (sm *SessionManager) Get(id string) (Session, bool) {
    sm.mu.RLock()
    defer sm.mu.RUnlock()
    s, ok := sm.sessions[id]
    if !ok || sm.now().After(s.Expires) {
        return Session{}, false
    }
    return s, true
}

// Delete ends a session and reports whether it existed.
func (sm *SessionManager) Delete(id string) bool {
    sm.mu.Lock()
    defer sm.mu.Unlock()
    _, ok := sm.sessions[id]
    delete(sm.sessions, id)
    return ok
}

// Purge drops expired sessions and returns how many went.
func (sm *SessionManager) Purge() int {
    sm.mu.Lock()
    defer sm.mu.Unlock()
    now := sm.now()
    n := 0
    for id, s := range sm.sessions {
        if now.After(s.Expires) {
            delete(sm.sessions, id)
            n++
        }
    }
    return n
}

// RunPurge calls Purge every interval until ctx is cancelled.
func (sm *SessionManager) RunPurge(ctx context.Context, every time.Duration, log zerolog.Logger) {
    t := time.NewTicker(every)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            if n := sm.Purge(); n > 0 {
                log.Debug().Int("sessions", n).Msg("expired sessions purged")
            }
        }
    }
}

// sessionID returns 32 random bytes, URL-safe base64 encoded.
func sessionID() (string, error) {
    b := make([]byte, 32)
    if _, err := rand.Read(b); err != nil {
        return "", fmt.Errorf("session id: %w", err)
    }
    return base64.RawURLEncoding.EncodeToString(b), nil
}
