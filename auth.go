package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

const (
	sessionCookieName      = "session"
	adminSessionCookieName = "admin_session"
	csrfCookieName         = "csrf"
	csrfFieldName          = "csrf_token"
	sessionDuration        = 24 * time.Hour
)

var (
	tokenKey      *[32]byte
	secureCookies bool
)

var errTokenExpired = errors.New("backend token already expired")

func initAuth() {
	secret := []byte(os.Getenv("SESSION_SECRET"))
	if len(secret) == 0 {
		log.Println("WARNING: SESSION_SECRET not set, sessions will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(err)
		}
	}

	key, err := deriveKey(secret)
	if err != nil {
		panic(err)
	}
	tokenKey = key

	secureCookies = os.Getenv("SECURE_COOKIES") == "true"
}

// createSession stores a backend token under a fresh opaque session token.
// The session never outlives the backend token's own expiry, and a token
// that has already expired is refused with errTokenExpired.
func createSession(db *sql.DB, role, apiToken string) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	session := &Session{
		Token:     token,
		Role:      role,
		APIToken:  apiToken,
		ExpiresAt: time.Now().Add(sessionDuration),
	}

	if claims, err := decodeClaims(apiToken); err == nil {
		session.Subject = claims.UserNumber
		if !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(session.ExpiresAt) {
			session.ExpiresAt = claims.ExpiresAt
		}
	}
	if !session.ExpiresAt.After(time.Now()) {
		return nil, errTokenExpired
	}

	sealed, err := sealToken(tokenKey, apiToken)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		INSERT INTO sessions (token, role, api_token, subject, expires_at)
		VALUES (?, ?, ?, ?, ?)`, token, role, sealed, session.Subject, session.ExpiresAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	return session, nil
}

func getSession(db *sql.DB, token, role string) (*Session, error) {
	row := db.QueryRow(`
		SELECT token, role, api_token, subject, expires_at
		FROM sessions
		WHERE token = ? AND role = ? AND expires_at > ?`, token, role, time.Now().UTC())

	var session Session
	var sealed []byte
	err := row.Scan(&session.Token, &session.Role, &sealed, &session.Subject, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	session.APIToken, err = openToken(tokenKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("opening session token: %w", err)
	}

	return &session, nil
}

func deleteSession(db *sql.DB, token string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func cleanupExpiredSessions(db *sql.DB) error {
	now := time.Now().UTC()
	if _, err := db.Exec("DELETE FROM sessions WHERE expires_at < ?", now); err != nil {
		return fmt.Errorf("cleaning up expired sessions: %w", err)
	}
	if _, err := db.Exec("DELETE FROM password_resets WHERE expires_at < ?", now); err != nil {
		return fmt.Errorf("cleaning up expired password resets: %w", err)
	}
	return nil
}

func setSessionCookie(w http.ResponseWriter, name string, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// CSRF protection using double-submit cookie pattern

func setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

func getCSRFToken(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func validateCSRF(r *http.Request) bool {
	cookieToken := getCSRFToken(r)
	formToken := r.FormValue(csrfFieldName)

	if cookieToken == "" || formToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(formToken)) == 1
}

func parseFormWithCSRF(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	if !validateCSRF(r) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return false
	}
	return true
}

// ensureCSRFToken returns existing token or creates a new one
func ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	token := getCSRFToken(r)
	if token != "" {
		return token
	}

	token, err := generateToken()
	if err != nil {
		return ""
	}
	setCSRFCookie(w, token)
	return token
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userSessionKey
	adminSessionKey
)

func sessionKeyFor(role string) ctxKey {
	if role == roleAdmin {
		return adminSessionKey
	}
	return userSessionKey
}

func sessionFromContext(ctx context.Context, role string) *Session {
	session, _ := ctx.Value(sessionKeyFor(role)).(*Session)
	return session
}

// lookupSession resolves the session for role from its cookie, preferring
// one already placed on the context by requireUser or requireAdmin.
func (s *Site) lookupSession(r *http.Request, role string) *Session {
	if session := sessionFromContext(r.Context(), role); session != nil {
		return session
	}

	name := sessionCookieName
	if role == roleAdmin {
		name = adminSessionCookieName
	}

	cookie, err := r.Cookie(name)
	if err != nil {
		return nil
	}

	session, err := getSession(s.db, cookie.Value, role)
	if err != nil {
		log.Printf("looking up %s session: %v", role, err)
		return nil
	}
	return session
}

// requireUser is middleware that protects routes requiring a user login
func (s *Site) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return s.requireRole(roleUser, "/login", next)
}

// requireAdmin is middleware that protects the admin console
func (s *Site) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireRole(roleAdmin, "/adminlogin", next)
}

func (s *Site) requireRole(role, loginPath string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := s.lookupSession(r, role)
		if session == nil {
			setFlash(w, flashError, "You must be logged in!")
			http.Redirect(w, r, loginPath, http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKeyFor(role), session)
		next(w, r.WithContext(ctx))
	}
}

// expireOnUnauthorized drops the session when the backend rejects its
// token and sends the visitor back to the matching login page.
func (s *Site) expireOnUnauthorized(w http.ResponseWriter, r *http.Request, err error, session *Session) bool {
	if !isUnauthorized(err) || session == nil {
		return false
	}

	if err := deleteSession(s.db, session.Token); err != nil {
		log.Printf("dropping rejected session: %v", err)
	}

	name, loginPath := sessionCookieName, "/login"
	if session.Role == roleAdmin {
		name, loginPath = adminSessionCookieName, "/adminlogin"
	}
	clearCookie(w, name)
	setFlash(w, flashError, "Your session has expired. Please log in again.")
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
	return true
}
