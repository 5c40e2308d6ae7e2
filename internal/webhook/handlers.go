package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"callhub/internal/dispatch"
	"callhub/internal/notify"
	"callhub/internal/reporting"
	"callhub/internal/session"
	"callhub/internal/store"
	"callhub/pkg/logger"
)

// Handler is the HTTP boundary for the call platform's webhook deliveries
// and for read-only inspection of sessions. Validation always runs before
// dispatch; a rejected request touches no state.

type Handler struct {
	Validator  *notify.Validator
	Dispatcher *dispatch.Dispatcher
	Reports    *reporting.Service
}

// maxNotificationBody caps inbound webhook bodies. Platform batches are a few
// KB; anything near this limit is not a legitimate delivery.
const maxNotificationBody = 1 << 20

// notificationResult is the wire form of one per-notification outcome.
type notificationResult struct {
	CallID string            `json:"call_id"`
	Kind   session.EventKind `json:"kind"`
	Seq    int64             `json:"seq,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type batchResponse struct {
	Results  []notificationResult `json:"results"`
	Commands []session.Command    `json:"commands,omitempty"`
}

// HandleNotifications accepts a platform notification batch.
//
// Status codes:
//   - 202 every notification applied
//   - 207 some notifications failed (per-notification detail in the body)
//   - 503 every notification failed on a backend error
//   - 400 unparseable payload, 401 failed authentication
func (h *Handler) HandleNotifications(c *gin.Context) {
	log := logger.FromGin(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationBody)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body over limit", "limit", tooLarge.Limit)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	batch, err := h.Validator.Validate(c.GetHeader("Authorization"), body)
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrAuth):
			log.Warn("webhook rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		case errors.Is(err, notify.ErrBadPayload):
			log.Warn("webhook unparseable", "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error("webhook validation failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
		}
		return
	}

	res := h.Dispatcher.Handle(c.Request.Context(), batch)

	resp := batchResponse{Commands: res.Commands()}
	for _, r := range res.Results {
		nr := notificationResult{CallID: r.CallID, Kind: r.Kind, Seq: r.Seq}
		if r.Err != nil {
			nr.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, nr)
	}

	failed := res.Failed()
	switch {
	case failed == 0:
		c.JSON(http.StatusAccepted, resp)
	case failed == len(res.Results):
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		c.JSON(http.StatusMultiStatus, resp)
	}
}

// ListActiveCalls returns the current active-session snapshot with a summary.
func (h *Handler) ListActiveCalls(c *gin.Context) {
	sum, err := h.Reports.Summary(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// GetCall returns one call's session and full history.
func (h *Handler) GetCall(c *gin.Context) {
	callID := c.Param("call_id")

	detail, err := h.Reports.Call(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, detail)
}
