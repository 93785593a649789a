package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sujalbistaa/qreview/internal/apperrors"
)

const (
	stateCookie       = "qreview_oauth_state"
	stateCookieMaxAge = 10 * 60
	linkedInTicketTTL = time.Hour
	authFailedURL     = "/?error=linkedin_auth_failed"
)

// LinkedInLogin starts the authorization-code flow. The state nonce is kept
// in a signed, short-lived cookie and checked on callback.
func (e *Env) LinkedInLogin(c *gin.Context) {
	if e.Identity == nil {
		abortWithError(c, apperrors.ErrLinkedInDisabled)
		return
	}

	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, e.signState(state), stateCookieMaxAge, "/auth/linkedin", "", e.Config.Server.IsProduction(), true)
	c.Redirect(http.StatusFound, e.Identity.AuthCodeURL(state))
}

// LinkedInCallback exchanges the code, parks the verified identity under a
// one-time ticket and sends the visitor back to the form.
func (e *Env) LinkedInCallback(c *gin.Context) {
	if e.Identity == nil {
		abortWithError(c, apperrors.ErrLinkedInDisabled)
		return
	}

	signed, _ := c.Cookie(stateCookie)
	c.SetCookie(stateCookie, "", -1, "/auth/linkedin", "", e.Config.Server.IsProduction(), true)

	if errParam := c.Query("error"); errParam != "" {
		e.log.Warn().Str("error", errParam).Msg("LinkedIn authorization denied")
		c.Redirect(http.StatusFound, authFailedURL)
		return
	}

	state, ok := e.verifyState(signed)
	if !ok || !hmac.Equal([]byte(state), []byte(c.Query("state"))) {
		e.log.Warn().Str("client_ip", c.ClientIP()).Msg("LinkedIn callback with invalid state")
		c.Redirect(http.StatusFound, authFailedURL)
		return
	}

	identity, err := e.Identity.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		e.log.Error().Err(err).Msg("LinkedIn authentication error")
		c.Redirect(http.StatusFound, authFailedURL)
		return
	}

	ticket := e.Tickets.Issue(identity)
	e.log.Info().Str("linkedin_id", identity.ID).Msg("LinkedIn authentication successful")
	c.Redirect(http.StatusFound, "/?linkedin_ticket="+url.QueryEscape(ticket))
}

// LinkedInIdentity lets the form show who is signed in without consuming the
// ticket.
func (e *Env) LinkedInIdentity(c *gin.Context) {
	identity, ok := e.Tickets.Lookup(c.Param("ticket"))
	if !ok {
		abortWithError(c, apperrors.NewNotFound("Unknown or expired LinkedIn ticket"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verified":   true,
		"name":       identity.Name,
		"firstName":  identity.FirstName,
		"lastName":   identity.LastName,
		"profileUrl": identity.ProfileURL,
	})
}

func (e *Env) signState(state string) string {
	mac := hmac.New(sha256.New, []byte(e.Config.Admin.SessionSecret))
	mac.Write([]byte(state))
	return state + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (e *Env) verifyState(signed string) (string, bool) {
	state, _, ok := strings.Cut(signed, ".")
	if !ok || state == "" {
		return "", false
	}
	return state, hmac.Equal([]byte(signed), []byte(e.signState(state)))
}
