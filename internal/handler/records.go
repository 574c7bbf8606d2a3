package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	CopilotCollection = "copilotEvents"
	VaultCollection   = "vaultEpisodes"

	maxCopilotTags = 12
)

// RecordsHandler stores client-side events and vault episodes.
type RecordsHandler struct {
	docs   storage.DocumentStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRecordsHandler(docs storage.DocumentStore, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{docs: docs, logger: nopIfNil(logger), now: time.Now}
}

// Handles POST /copilot/ingest. Unauthenticated callers may name themselves
// with X-User-UID or a uid field.
func (h *RecordsHandler) CopilotIngest(c *gin.Context) {
	var event map[string]any
	if err := c.ShouldBindJSON(&event); err != nil {
		invalid(c, "Request body must be a JSON object")
		return
	}

	uid := callerID(c)
	if uid == "" || uid == access.Anonymous {
		uid = c.GetHeader("X-User-UID")
		if uid == "" {
			uid, _ = event["uid"].(string)
		}
		if uid == "" {
			uid = "anon"
		}
	}

	ts, _ := event["ts"].(float64)
	if ts <= 0 {
		ts = float64(h.now().UnixMilli())
	}
	tags, _ := event["tags"].([]any)
	if len(tags) > maxCopilotTags {
		tags = tags[:maxCopilotTags]
	}
	if tags == nil {
		tags = []any{}
	}
	meta, _ := event["meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}

	doc := map[string]any{
		"uid":   uid,
		"ts":    int64(ts),
		"tool":  textOr(event["tool"], "unknown"),
		"type":  textOr(event["type"], "unknown"),
		"title": textOr(event["title"], ""),
		"tags":  tags,
		"meta":  meta,
	}
	id, err := h.docs.Add(c.Request.Context(), CopilotCollection, doc)
	if err != nil {
		failErr(c, h.logger, fmt.Errorf("storing copilot event: %w", err))
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id})
}

// Handles POST /v1/vault/episodes
func (h *RecordsHandler) VaultSave(c *gin.Context) {
	var req struct {
		Type       string         `json:"type"`
		Title      string         `json:"title"`
		RawText    string         `json:"rawText"`
		Structured map[string]any `json:"structured"`
		Tags       []string       `json:"tags"`
		Summarize  bool           `json:"summarize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "Request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Title) == "" {
		invalid(c, "Missing 'type' or 'title'")
		return
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}

	id, err := h.docs.Add(c.Request.Context(), VaultCollection, map[string]any{
		"uid":        callerID(c),
		"type":       req.Type,
		"title":      req.Title,
		"rawText":    req.RawText,
		"structured": req.Structured,
		"tags":       req.Tags,
		"summarize":  req.Summarize,
		"createdAt":  h.now().Unix(),
	})
	if err != nil {
		failErr(c, h.logger, fmt.Errorf("storing vault episode: %w", err))
		return
	}

	ok(c, http.StatusCreated, gin.H{
		"id": id,
		"echo": gin.H{
			"type":      req.Type,
			"title":     req.Title,
			"summarize": req.Summarize,
			"tags":      req.Tags,
		},
	})
}

func textOr(v any, def string) string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t
		}
	case nil:
	default:
		return fmt.Sprint(t)
	}
	return def
}
