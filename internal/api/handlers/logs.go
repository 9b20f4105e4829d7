package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLogLines = 100
	logWriteWait    = 10 * time.Second
	logPingPeriod   = 30 * time.Second
)

// The default origin check only accepts same-host pages.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Logs returns the most recent console entries. n bounds the count and
// level keeps entries at or above the given logrus level.
func (h *Handler) Logs(c *gin.Context) {
	n := defaultLogLines
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_query", "message": "n must be a positive integer"})
			return
		}
		n = parsed
	}
	entries := h.console.Recent(n)
	if level := c.Query("level"); level != "" {
		min, err := log.ParseLevel(level)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_query", "message": err.Error()})
			return
		}
		entries = filterLevel(entries, min)
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func filterLevel(entries []logging.LogEntry, min log.Level) []logging.LogEntry {
	out := entries[:0:0]
	for _, e := range entries {
		lvl, err := log.ParseLevel(strings.ToLower(e.Level))
		if err != nil || lvl <= min {
			out = append(out, e)
		}
	}
	return out
}

// LogStream upgrades to a websocket, replays recent entries and then
// pushes every new one until the client goes away.
func (h *Handler) LogStream(c *gin.Context) {
	logging.SkipGinRequestLogging(c)
	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("log stream upgrade failed")
		return
	}
	defer func() { _ = ws.Close() }()

	entries, cancel := h.console.Subscribe(256)
	defer cancel()

	// read loop to notice disconnects
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, errRead := ws.ReadMessage(); errRead != nil {
				return
			}
		}
	}()

	for _, e := range h.console.Recent(defaultLogLines) {
		if err = writeEntry(ws, e); err != nil {
			return
		}
	}

	ping := time.NewTicker(logPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-disconnected:
			return
		case <-c.Request.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err = writeEntry(ws, e); err != nil {
				return
			}
		case <-ping.C:
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(logWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeEntry(ws *websocket.Conn, e logging.LogEntry) error {
	_ = ws.SetWriteDeadline(time.Now().Add(logWriteWait))
	return ws.WriteJSON(e)
}
