package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	log "github.com/sirupsen/logrus"
)

// SessionCookieName names the browser session cookie.
const SessionCookieName = "playground_session"

const (
	sessionIDKey   = "__session_id__"
	sessionIDField = "id"
)

// NewSessionStore returns the signed cookie store for browser sessions.
func NewSessionStore(secret []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// SessionMiddleware makes sure every request carries a session id. Flow
// state is stored per session so two browser tabs in different profiles
// never see each other's codes and tokens.
func SessionMiddleware(store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := store.Get(c.Request, SessionCookieName)
		if err != nil {
			// a cookie signed with an older secret; start over
			log.WithError(err).Debug("discarding unreadable session cookie")
		}
		id, _ := sess.Values[sessionIDField].(string)
		if id == "" {
			id = uuid.NewString()
			sess.Values[sessionIDField] = id
			if errSave := sess.Save(c.Request, c.Writer); errSave != nil {
				log.WithError(errSave).Warn("failed to save session cookie")
			}
		}
		c.Set(sessionIDKey, id)
		c.Next()
	}
}

// SessionID returns the session id set by SessionMiddleware.
func SessionID(c *gin.Context) string {
	if v, ok := c.Get(sessionIDKey); ok {
		if id, okStr := v.(string); okStr {
			return id
		}
	}
	return ""
}
