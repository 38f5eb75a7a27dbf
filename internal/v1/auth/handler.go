package auth

import (
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/lms"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
)

const (
	stateCookie    = "ts_oauth_state"
	stateCookieTTL = 600 // seconds

	maxGuestNameLen = 100
)

// Handler serves the HTTP login surface: the LMS OAuth flow and the guest
// endpoint. Both end in a session token the WebSocket handshake accepts.
type Handler struct {
	issuer        *Issuer
	authenticator lms.Authenticator
	store         store.Store
	uiOrigin      string
}

// NewHandler wires the login endpoints to their collaborators.
func NewHandler(issuer *Issuer, authenticator lms.Authenticator, st store.Store, uiOrigin string) *Handler {
	return &Handler{
		issuer:        issuer,
		authenticator: authenticator,
		store:         st,
		uiOrigin:      uiOrigin,
	}
}

// Login starts the LMS OAuth flow: mint a state nonce, park it in a cookie,
// and redirect the browser to the LMS authorization page.
func (h *Handler) Login(c *gin.Context) {
	state := uuid.NewString()
	c.SetCookie(stateCookie, state, stateCookieTTL, "/auth", "", false, true)
	c.Redirect(http.StatusFound, h.authenticator.AuthCodeURL(state))
}

// Callback finishes the OAuth flow. On success the browser lands on the UI
// with the session token in the URL fragment, keeping it out of server logs.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if errParam := c.Query("error"); errParam != "" {
		message := c.Query("error_description")
		if message == "" {
			message = errParam
		}
		logging.Warn(ctx, "LMS returned an error on callback", zap.String("error", errParam))
		h.redirectError(c, message)
		return
	}

	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		logging.Warn(ctx, "OAuth state mismatch on callback")
		h.redirectError(c, "Login expired. Please try again.")
		return
	}
	// One shot: the state cookie dies with this callback.
	c.SetCookie(stateCookie, "", -1, "/auth", "", false, true)

	code := c.Query("code")
	if code == "" {
		h.redirectError(c, "Login failed. Please try again.")
		return
	}

	profile, err := h.authenticator.Authenticate(ctx, code)
	if err != nil {
		logging.Warn(ctx, "LMS authentication failed", zap.Error(err))
		h.redirectError(c, "Login failed. Please try again.")
		return
	}

	// The upsert preserves the stored role for known users; the LMS role only
	// seeds first-time accounts.
	user, err := h.store.UpsertUser(ctx, store.UpsertUserParams{
		ExternalID: profile.ExternalID,
		Email:      profile.Email,
		Name:       profile.Name,
		Role:       store.Role(profile.Role),
	})
	if err != nil {
		logging.Error(ctx, "Failed to upsert user after login", zap.Error(err))
		h.redirectError(c, "Something went wrong. Please try again.")
		return
	}

	token, err := h.issuer.Issue(user.Email, user.Name, string(user.Role))
	if err != nil {
		logging.Error(ctx, "Failed to issue session token", zap.Error(err))
		h.redirectError(c, "Something went wrong. Please try again.")
		return
	}

	logging.Info(ctx, "User logged in via LMS",
		zap.String("email", logging.RedactEmail(user.Email)),
		zap.String("role", string(user.Role)))

	c.Redirect(http.StatusFound, h.uiOrigin+"/auth/success#token="+url.QueryEscape(token)+
		"&name="+url.QueryEscape(user.Name)+
		"&role="+url.QueryEscape(string(user.Role)))
}

// GuestLoginRequest is the POST /auth/guest body.
type GuestLoginRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// GuestLoginResponse carries the minted guest identity back to the client.
type GuestLoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// GuestLogin mints a session token for a synthetic guest identity. The user
// row is created lazily when the guest's first WebSocket connection resolves.
func (h *Handler) GuestLogin(c *gin.Context) {
	var req GuestLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if utf8.RuneCountInString(name) > maxGuestNameLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is too long"})
		return
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = string(store.RoleStudent)
	}
	if role != string(store.RoleStudent) && role != string(store.RoleTeacher) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be student or teacher"})
		return
	}

	email := GuestEmailPrefix + uuid.NewString() + "@" + GuestEmailDomain
	token, err := h.issuer.Issue(email, name, role)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to issue guest token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	logging.Info(c.Request.Context(), "Guest session issued",
		zap.String("email", logging.RedactEmail(email)),
		zap.String("role", role))

	c.JSON(http.StatusOK, GuestLoginResponse{Token: token, Email: email, Name: name, Role: role})
}

func (h *Handler) redirectError(c *gin.Context, message string) {
	c.Redirect(http.StatusFound, h.uiOrigin+"/auth/error?message="+url.QueryEscape(message))
}
