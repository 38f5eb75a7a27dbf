package room

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const msgAuthFailed = "Your account could not be verified. Please sign in again."

// resolveIdentity turns validated token claims into a store user and
// completes the connection's ready barrier. Guest emails mint a user on
// the spot; everyone else must already exist, having come through the
// OAuth callback. On failure the client hears AUTH_ERROR and the socket
// closes; the barrier still completes so parked frames drain as no-ops.
func (reg *Registry) resolveIdentity(ctx context.Context, conn *connection) {
	defer close(conn.ready)

	email := ""
	if conn.claims != nil {
		email = strings.ToLower(strings.TrimSpace(conn.claims.Email))
	}
	if email == "" {
		conn.client.Send(types.EventAuthError, types.AuthErrorPayload{Message: msgAuthFailed})
		conn.client.Disconnect()
		return
	}

	var (
		user *store.User
		err  error
	)
	if strings.HasPrefix(email, auth.GuestEmailPrefix) {
		user, err = reg.upsertGuest(ctx, email, conn.claims)
	} else {
		user, err = reg.store.FindUserByEmail(ctx, email)
	}
	if err != nil {
		logging.Warn(ctx, "Identity resolution failed",
			zap.String("email", logging.RedactEmail(email)), zap.Error(err))
		conn.client.Send(types.EventAuthError, types.AuthErrorPayload{Message: msgAuthFailed})
		conn.client.Disconnect()
		return
	}

	conn.user = user
	reg.cancelAutoEnd(user.ID)
	conn.client.Send(types.EventConsentStatus, consentPayload(user))
	reg.audit.Record(audit.EventUserConnect, &user.ID, map[string]any{
		"connectionId": string(conn.client.GetID()),
		"role":         string(user.Role),
	})
	logging.Info(ctx, "Identity resolved",
		zap.String("connectionId", string(conn.client.GetID())),
		zap.String("userId", user.ID),
		zap.String("role", string(user.Role)))
}

// upsertGuest creates or refreshes the user row behind a guest token.
// Guests may present as student or teacher; anything else clamps to
// student. Admin is never reachable without a roster-backed account.
func (reg *Registry) upsertGuest(ctx context.Context, email string, claims *auth.Claims) (*store.User, error) {
	role := store.RoleStudent
	if types.ParseRole(claims.Role) == types.RoleTypeTeacher {
		role = store.RoleTeacher
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = "Guest"
	}
	return reg.store.UpsertUser(ctx, store.UpsertUserParams{
		ExternalID: "guest:" + uuid.NewString(),
		Email:      email,
		Name:       name,
		Role:       role,
	})
}

// consentPayload shapes a user's research-consent state for the wire.
func consentPayload(u *store.User) types.ConsentStatusPayload {
	p := types.ConsentStatusPayload{ConsentGiven: u.ConsentGiven}
	if u.ConsentDate != nil {
		s := u.ConsentDate.UTC().Format(time.RFC3339)
		p.ConsentDate = &s
	}
	return p
}

// handleUpdateConsent records a consent decision and echoes the stored
// state back, date included, so the client renders what was persisted
// rather than what it asked for.
func (reg *Registry) handleUpdateConsent(ctx context.Context, conn *connection, raw json.RawMessage) {
	payload, ok := decodeOrDrop[types.UpdateConsentPayload](ctx, types.EventUpdateConsent, raw)
	if !ok {
		return
	}

	updated, err := reg.store.RecordConsent(ctx, conn.user.ID, payload.ConsentGiven)
	if err != nil {
		logging.Error(ctx, "Recording consent failed", zap.Error(err))
		sendError(conn, msgInternalError)
		return
	}

	conn.client.Send(types.EventConsentStatus, consentPayload(updated))
	reg.audit.Record(audit.EventUpdateConsent, &conn.user.ID, map[string]any{
		"consentGiven": payload.ConsentGiven,
	})
}
