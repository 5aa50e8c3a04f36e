package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibetunnel/vibetunneld/internal/apierr"
	"github.com/vibetunnel/vibetunneld/internal/logger"
)

const (
	healthInterval     = 10 * time.Second
	healthTimeout      = 5 * time.Second
	healthFailureEvict = 3
)

// Registry is HQ's view of the cluster: every registered remote, its
// current session set, and a health-check loop that evicts unreachable
// remotes (§4.7).
type Registry struct {
	store  *store
	secret []byte

	mu      sync.RWMutex
	remotes map[string]*Remote
	byName  map[string]string // name -> id, enforces unique (id,name)

	httpClient *http.Client
	stopHealth chan struct{}
}

// Open opens (creating if needed) the SQLite-backed registry at dbPath and
// loads any previously registered remotes.
func Open(dbPath string) (*Registry, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	secret, err := loadOrCreateSecret(st)
	if err != nil {
		st.Close()
		return nil, err
	}
	r := &Registry{
		store:      st,
		secret:     secret,
		remotes:    make(map[string]*Remote),
		byName:     make(map[string]string),
		httpClient: &http.Client{Timeout: healthTimeout},
		stopHealth: make(chan struct{}),
	}
	if err := r.loadFromDB(); err != nil {
		st.Close()
		return nil, err
	}
	return r, nil
}

func loadOrCreateSecret(st *store) ([]byte, error) {
	var hexSecret string
	err := st.db.QueryRow("SELECT value FROM settings WHERE key = 'jwt_secret'").Scan(&hexSecret)
	if err == nil {
		return hex.DecodeString(hexSecret)
	}
	if _, execErr := st.db.Exec(`CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); execErr != nil {
		return nil, fmt.Errorf("registry: create settings table: %w", execErr)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("registry: generate jwt secret: %w", err)
	}
	hexSecret = hex.EncodeToString(secret)
	if _, err := st.db.Exec("INSERT INTO settings (key, value) VALUES ('jwt_secret', ?)", hexSecret); err != nil {
		return nil, fmt.Errorf("registry: persist jwt secret: %w", err)
	}
	return secret, nil
}

func (r *Registry) loadFromDB() error {
	rows, err := r.store.db.Query("SELECT id, name, url, token, registered_at FROM remotes")
	if err != nil {
		return fmt.Errorf("registry: load remotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rem := &Remote{}
		if err := rows.Scan(&rem.ID, &rem.Name, &rem.URL, &rem.Token, &rem.RegisteredAt); err != nil {
			return fmt.Errorf("registry: scan remote: %w", err)
		}
		r.remotes[rem.ID] = rem
		r.byName[rem.Name] = rem.ID
	}

	sessRows, err := r.store.db.Query("SELECT remote_id, session_id FROM remote_sessions")
	if err != nil {
		return fmt.Errorf("registry: load remote sessions: %w", err)
	}
	defer sessRows.Close()
	for sessRows.Next() {
		var remoteID, sessionID string
		if err := sessRows.Scan(&remoteID, &sessionID); err != nil {
			return fmt.Errorf("registry: scan remote session: %w", err)
		}
		if rem, ok := r.remotes[remoteID]; ok {
			rem.SessionIDs = append(rem.SessionIDs, sessionID)
		}
	}
	return nil
}

// Register adds a new remote, persists it, and returns its issued bearer
// token (shown to the caller exactly once).
func (r *Registry) Register(name, url string) (*Remote, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, "", apierr.InvalidArgument(fmt.Sprintf("remote name %q already registered", name))
	}

	id := uuid.NewString()
	token, err := issueRemoteToken(r.secret, id)
	if err != nil {
		return nil, "", apierr.Internal(err)
	}

	rem := &Remote{ID: id, Name: name, URL: url, Token: token, RegisteredAt: time.Now()}
	if _, err := r.store.db.Exec(
		"INSERT INTO remotes (id, name, url, token) VALUES (?, ?, ?, ?)",
		rem.ID, rem.Name, rem.URL, rem.Token,
	); err != nil {
		return nil, "", apierr.IOFailed("persist remote registration", err)
	}

	r.remotes[id] = rem
	r.byName[name] = id
	return rem, token, nil
}

// Unregister removes a remote and its session mappings.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.remotes[id]
	if !ok {
		return apierr.NotFound(fmt.Sprintf("remote %s not found", id))
	}
	if _, err := r.store.db.Exec("DELETE FROM remotes WHERE id = ?", id); err != nil {
		return apierr.IOFailed("delete remote", err)
	}
	delete(r.remotes, id)
	delete(r.byName, rem.Name)
	return nil
}

// GetRemotes returns every registered remote.
func (r *Registry) GetRemotes() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.remotes))
	for _, rem := range r.remotes {
		out = append(out, rem.toInfo())
	}
	return out
}

// GetRemote returns one remote by ID.
func (r *Registry) GetRemote(id string) (*Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rem, ok := r.remotes[id]
	return rem, ok
}

// GetRemoteBySessionID finds the remote owning a given session, if any.
func (r *Registry) GetRemoteBySessionID(sessionID string) (*Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rem := range r.remotes {
		for _, sid := range rem.SessionIDs {
			if sid == sessionID {
				return rem, true
			}
		}
	}
	return nil, false
}

// UpdateRemoteSessions replaces a remote's full session set.
func (r *Registry) UpdateRemoteSessions(remoteID string, sessionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.remotes[remoteID]
	if !ok {
		return apierr.NotFound(fmt.Sprintf("remote %s not found", remoteID))
	}

	tx, err := r.store.db.Begin()
	if err != nil {
		return apierr.IOFailed("begin tx", err)
	}
	if _, err := tx.Exec("DELETE FROM remote_sessions WHERE remote_id = ?", remoteID); err != nil {
		tx.Rollback()
		return apierr.IOFailed("clear remote sessions", err)
	}
	for _, sid := range sessionIDs {
		if _, err := tx.Exec("INSERT INTO remote_sessions (remote_id, session_id) VALUES (?, ?)", remoteID, sid); err != nil {
			tx.Rollback()
			return apierr.IOFailed("insert remote session", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apierr.IOFailed("commit tx", err)
	}

	rem.SessionIDs = append([]string(nil), sessionIDs...)
	return nil
}

// AddSessionToRemote appends one session ID to a remote's set.
func (r *Registry) AddSessionToRemote(remoteID, sessionID string) error {
	r.mu.Lock()
	rem, ok := r.remotes[remoteID]
	if !ok {
		r.mu.Unlock()
		return apierr.NotFound(fmt.Sprintf("remote %s not found", remoteID))
	}
	for _, sid := range rem.SessionIDs {
		if sid == sessionID {
			r.mu.Unlock()
			return nil
		}
	}
	r.mu.Unlock()

	if _, err := r.store.db.Exec("INSERT OR IGNORE INTO remote_sessions (remote_id, session_id) VALUES (?, ?)", remoteID, sessionID); err != nil {
		return apierr.IOFailed("add session to remote", err)
	}
	r.mu.Lock()
	rem.SessionIDs = append(rem.SessionIDs, sessionID)
	r.mu.Unlock()
	return nil
}

// RemoveSessionFromRemote removes one session ID, regardless of which
// remote currently owns it.
func (r *Registry) RemoveSessionFromRemote(sessionID string) error {
	if _, err := r.store.db.Exec("DELETE FROM remote_sessions WHERE session_id = ?", sessionID); err != nil {
		return apierr.IOFailed("remove session from remote", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range r.remotes {
		for i, sid := range rem.SessionIDs {
			if sid == sessionID {
				rem.SessionIDs = append(rem.SessionIDs[:i], rem.SessionIDs[i+1:]...)
				break
			}
		}
	}
	return nil
}

// StartHealthLoop begins the periodic GET /api/health polling (§4.7
// "Health"). Close ends it.
func (r *Registry) StartHealthLoop() {
	go r.healthLoop()
}

func (r *Registry) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.checkAll()
		case <-r.stopHealth:
			return
		}
	}
}

func (r *Registry) checkAll() {
	r.mu.RLock()
	remotes := make([]*Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		remotes = append(remotes, rem)
	}
	r.mu.RUnlock()

	for _, rem := range remotes {
		healthy := r.checkOne(rem)
		r.mu.Lock()
		if healthy {
			rem.failures = 0
		} else {
			rem.failures++
			if rem.failures >= healthFailureEvict {
				logger.Warn("evicting unreachable remote", "remote", rem.Name, "failures", rem.failures)
				delete(r.remotes, rem.ID)
				delete(r.byName, rem.Name)
				r.store.db.Exec("DELETE FROM remotes WHERE id = ?", rem.ID)
			}
		}
		r.mu.Unlock()
	}
}

func (r *Registry) checkOne(rem *Remote) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rem.URL+"/api/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+rem.Token)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close stops the health loop and closes the database.
func (r *Registry) Close() error {
	close(r.stopHealth)
	return r.store.Close()
}
