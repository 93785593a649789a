package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/qreview/internal/apperrors"
	"github.com/sujalbistaa/qreview/internal/auth"
	"github.com/sujalbistaa/qreview/internal/logging"
	"github.com/sujalbistaa/qreview/internal/reviews"
	"github.com/sujalbistaa/qreview/internal/ws"
)

type loginInput struct {
	Password string `json:"password"`
}

type replyInput struct {
	Reply string `json:"reply"`
}

type flagInput struct {
	Flagged any `json:"flagged"`
}

type bulkInput struct {
	IDs []bulkID `json:"ids"`
}

// bulkID accepts 12 and "12"; anything else becomes 0 and is dropped.
type bulkID int64

func (b *bulkID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		if v == float64(int64(v)) {
			*b = bulkID(v)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*b = bulkID(n)
		}
	}
	return nil
}

func (in bulkInput) ids() []int64 {
	out := make([]int64, len(in.IDs))
	for i, id := range in.IDs {
		out[i] = int64(id)
	}
	return out
}

func (e *Env) Login(c *gin.Context) {
	var input loginInput
	if err := bindJSON(c, &input, true); err != nil {
		abortWithError(c, err)
		return
	}

	if !auth.VerifyPassword(e.Config.Admin.Password, input.Password) {
		logging.LogSecurityEvent("admin_login_failed", c.ClientIP(), "invalid password")
		abortWithError(c, apperrors.ErrUnauthorized)
		return
	}

	token := e.Sessions.Issue(struct{}{})
	e.Metrics.SetActiveSessions(e.Sessions.Len())
	e.log.Info().Str("client_ip", c.ClientIP()).Msg("Admin logged in")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (e *Env) Logout(c *gin.Context) {
	e.Sessions.Revoke(auth.SessionToken(c))
	e.Metrics.SetActiveSessions(e.Sessions.Len())
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (e *Env) AdminStats(c *gin.Context) {
	stats, err := e.Reviews.AdminStatistics(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (e *Env) AdminListReviews(c *gin.Context) {
	q := reviews.NewAdminQuery(queryInt(c, "page"), queryInt(c, "limit"), c.Query("filter"), c.Query("search"))
	page, err := e.Reviews.AdminList(c.Request.Context(), q)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (e *Env) ValidateReview(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := e.Reviews.Validate(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review validated"})
}

func (e *Env) DeleteReview(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := e.Reviews.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review deleted"})
}

func (e *Env) ReplyReview(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	var input replyInput
	if err := bindJSON(c, &input, true); err != nil {
		abortWithError(c, err)
		return
	}
	if err := e.Reviews.Reply(c.Request.Context(), id, input.Reply); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reply added"})
}

func (e *Env) FlagReview(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	var input flagInput
	if err := bindJSON(c, &input, true); err != nil {
		abortWithError(c, err)
		return
	}

	flagged := truthy(input.Flagged)
	if err := e.Reviews.SetFlag(c.Request.Context(), id, flagged); err != nil {
		abortWithError(c, err)
		return
	}
	msg := "Review unflagged"
	if flagged {
		msg = "Review flagged"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (e *Env) BulkValidate(c *gin.Context) {
	var input bulkInput
	if err := bindJSON(c, &input, true); err != nil {
		abortWithError(c, apperrors.NewInvalidRequest("No review ids provided"))
		return
	}
	res, err := e.Reviews.BulkValidate(c.Request.Context(), input.ids())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (e *Env) BulkDelete(c *gin.Context) {
	var input bulkInput
	if err := bindJSON(c, &input, true); err != nil {
		abortWithError(c, apperrors.NewInvalidRequest("No review ids provided"))
		return
	}
	res, err := e.Reviews.BulkDelete(c.Request.Context(), input.ids())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ModerationFeed upgrades to the websocket event stream.
func (e *Env) ModerationFeed(c *gin.Context) {
	ws.ServeWs(e.Hub, c.Writer, c.Request)
}

// truthy mirrors loose JSON truthiness: absent, false, 0 and "" are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
