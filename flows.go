package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/e-id/certilia-oauth/credential"
	"github.com/e-id/certilia-oauth/providers"
	"github.com/e-id/certilia-oauth/storage"
)

const minClientStateLength = 8

// InitializeParams are the client-controlled inputs of a new flow.
type InitializeParams struct {
	// State lets the client pick the CSRF correlation value, so it can
	// bind the polling channel to the browser flow. Generated when empty.
	State string

	// RedirectURI overrides the broker's own callback endpoint, for
	// deployments where a frontend handles the redirect itself.
	RedirectURI string
}

// Initialize starts an authorization flow: it mints the session's state,
// nonce and PKCE verifier, persists the session and builds the provider
// authorization URL.
func (b *Broker) Initialize(ctx context.Context, params InitializeParams, clientIP string) (*InitializeResponse, error) {
	state := params.State
	if state == "" {
		generated, err := randomToken(32)
		if err != nil {
			return nil, fmt.Errorf("generating state: %w", err)
		}
		state = generated
	} else if len(state) < minClientStateLength {
		return nil, NewValidationError("state parameter is too short")
	}

	nonce, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	redirectURI := params.RedirectURI
	if redirectURI == "" {
		redirectURI = b.config.RedirectURI()
	} else if parsed, err := url.Parse(redirectURI); err != nil || !parsed.IsAbs() {
		return nil, NewValidationError("redirect_uri must be an absolute URL")
	}

	verifier := oauth2.GenerateVerifier()
	now := time.Now()

	session := &storage.AuthorizationSession{
		ID:           uuid.NewString(),
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.config.SessionTTL),
	}

	if err := b.sessions.SaveSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrDuplicateState) {
			return nil, NewValidationError("state is already bound to an active session")
		}
		return nil, fmt.Errorf("saving session: %w", err)
	}

	authURL := b.provider.AuthorizationURL(providers.AuthURLParams{
		State:         state,
		Nonce:         nonce,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		RedirectURI:   session.RedirectURI,
	})

	b.auditor.LogFlowInitialized(session.ID, clientIP)
	if m := b.metrics(); m != nil {
		m.RecordFlowInitialized(ctx, b.provider.Name())
	}
	b.logger.Info("authorization flow initialized",
		"session_id", session.ID,
		"provider", b.provider.Name())

	return &InitializeResponse{
		AuthorizationURL: authURL,
		SessionID:        session.ID,
		State:            state,
	}, nil
}

// CallbackParams carries the query parameters the provider redirects
// back with.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult drives the callback page and tells the handler whether
// the provider reported success.
type CallbackResult struct {
	Success          bool
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// HandleCallback records the provider's redirect outcome. When a polling
// session is bound to the state, it transitions it so a waiting native
// client picks the result up. The authorization session itself is only
// consumed later, by Exchange.
func (b *Broker) HandleCallback(ctx context.Context, params CallbackParams) *CallbackResult {
	if params.Error != "" {
		b.resolvePolling(ctx, params.State, &storage.PollingResult{
			Error:            params.Error,
			ErrorDescription: params.ErrorDescription,
		})
		if m := b.metrics(); m != nil {
			m.RecordCallbackProcessed(ctx, b.provider.Name(), false)
		}
		b.logger.Warn("authorization callback failed",
			"error", params.Error,
			"error_description", params.ErrorDescription)
		return &CallbackResult{
			Error:            params.Error,
			ErrorDescription: params.ErrorDescription,
		}
	}

	if params.Code == "" || params.State == "" {
		if m := b.metrics(); m != nil {
			m.RecordCallbackProcessed(ctx, b.provider.Name(), false)
		}
		return &CallbackResult{
			Error:            "invalid_callback",
			ErrorDescription: "Missing code or state parameter",
		}
	}

	b.resolvePolling(ctx, params.State, &storage.PollingResult{
		Code:  params.Code,
		State: params.State,
	})
	if m := b.metrics(); m != nil {
		m.RecordCallbackProcessed(ctx, b.provider.Name(), true)
	}
	return &CallbackResult{
		Success: true,
		Code:    params.Code,
		State:   params.State,
	}
}

func (b *Broker) resolvePolling(ctx context.Context, state string, result *storage.PollingResult) {
	if state == "" {
		return
	}
	updated, err := b.polling.UpdateByState(ctx, state, result)
	if err != nil {
		b.logger.Error("updating polling session", "error", err)
		return
	}
	if updated {
		b.logger.Debug("polling session resolved", "has_error", result.Error != "")
	}
}

// Exchange redeems the authorization code for provider tokens, resolves
// the user's identity and issues the broker's own credential pair. The
// session is claimed atomically first so a code is exchanged at most
// once, and released again when the provider round trip fails.
func (b *Broker) Exchange(ctx context.Context, req *ExchangeRequest, clientIP string) (*ExchangeResponse, error) {
	if req.Code == "" {
		return nil, NewValidationError("code is required")
	}
	if req.State == "" {
		return nil, NewValidationError("state is required")
	}
	if req.SessionID == "" {
		return nil, NewValidationError("session_id is required")
	}

	session, err := b.sessions.ClaimSession(ctx, req.SessionID, req.State)
	if err != nil {
		b.auditor.LogAuthFailure(req.SessionID, clientIP, "session_claim_failed")
		if m := b.metrics(); m != nil {
			m.RecordAuthFailure(ctx, "session_claim_failed")
		}
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			return nil, NewAuthenticationError("Invalid or expired session")
		case errors.Is(err, storage.ErrStateMismatch):
			return nil, NewAuthenticationError("State parameter does not match session")
		case errors.Is(err, storage.ErrSessionClaimed):
			return nil, NewAuthenticationError("Session is already being exchanged")
		default:
			return nil, fmt.Errorf("claiming session: %w", err)
		}
	}

	token, err := b.provider.ExchangeCode(ctx, providers.ExchangeParams{
		Code:         req.Code,
		CodeVerifier: session.CodeVerifier,
		RedirectURI:  session.RedirectURI,
	})
	if err != nil {
		b.releaseSession(ctx, session.ID)
		if m := b.metrics(); m != nil {
			m.RecordCodeExchange(ctx, b.provider.Name(), false)
		}
		b.auditor.LogAuthFailure(session.ID, clientIP, "code_exchange_failed")
		return nil, mapProviderError(err, "Failed to exchange authorization code")
	}

	idTokenIdentity, err := b.verifyIDToken(token, session.Nonce)
	if err != nil {
		b.releaseSession(ctx, session.ID)
		b.auditor.LogAuthFailure(session.ID, clientIP, "nonce_mismatch")
		if m := b.metrics(); m != nil {
			m.RecordAuthFailure(ctx, "nonce_mismatch")
		}
		return nil, err
	}

	identity, err := b.resolveIdentity(ctx, token.AccessToken, idTokenIdentity)
	if err != nil {
		b.releaseSession(ctx, session.ID)
		b.auditor.LogAuthFailure(session.ID, clientIP, "identity_resolution_failed")
		return nil, err
	}
	if identity.Subject == "" {
		b.releaseSession(ctx, session.ID)
		return nil, NewAuthenticationError("Provider returned no subject for the user")
	}

	pair, err := b.credentials.IssuePair(identity.Subject, identity.Claims(), providerTokensFromOAuth2(token))
	if err != nil {
		b.releaseSession(ctx, session.ID)
		return nil, fmt.Errorf("issuing credentials: %w", err)
	}

	if err := b.sessions.DeleteSession(ctx, session.ID); err != nil {
		b.logger.Warn("deleting exchanged session", "session_id", session.ID, "error", err)
	}

	b.auditor.LogCredentialIssued(identity.Subject, session.ID, clientIP)
	if m := b.metrics(); m != nil {
		m.RecordCodeExchange(ctx, b.provider.Name(), true)
		m.RecordCredentialIssued(ctx)
	}
	b.logger.Info("credentials issued", "session_id", session.ID)

	return &ExchangeResponse{
		Pair: *pair,
		User: userPayloadFromIdentity(identity),
	}, nil
}

// verifyIDToken decodes the ID token returned alongside the access token
// and checks its nonce against the session. The token arrives over the
// direct TLS channel from the token endpoint, so its signature is not
// re-verified here.
func (b *Broker) verifyIDToken(token *oauth2.Token, expectedNonce string) (*providers.Identity, error) {
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, nil
	}

	claims, err := credential.DecodeUnsafe(rawIDToken)
	if err != nil {
		return nil, NewAuthenticationError("Provider returned a malformed ID token")
	}

	// Providers may omit the nonce claim; only a present, differing
	// nonce indicates a replayed authorization response.
	if nonce, ok := claims["nonce"].(string); ok && nonce != "" && nonce != expectedNonce {
		return nil, NewAuthenticationError("ID token nonce does not match session")
	}

	return providers.IdentityFromClaims(claims), nil
}

// resolveIdentity fetches userinfo and merges it with the ID token
// claims. Certilia rejects userinfo calls for certain eID token types;
// in that case the ID token claims alone carry the identity.
func (b *Broker) resolveIdentity(ctx context.Context, accessToken string, idTokenIdentity *providers.Identity) (*providers.Identity, error) {
	userinfo, err := b.provider.FetchUserInfo(ctx, accessToken)
	if err != nil {
		if errors.Is(err, providers.ErrTokenBinding) && idTokenIdentity != nil {
			b.logger.Debug("userinfo rejected the access token, using ID token claims")
			return idTokenIdentity, nil
		}
		if errors.Is(err, providers.ErrInvalidAccessToken) {
			return nil, NewAuthenticationError("Provider rejected the access token")
		}
		return nil, mapProviderError(err, "Failed to fetch user info")
	}
	return providers.MergeIdentities(userinfo, idTokenIdentity), nil
}

// Refresh verifies a refresh credential and issues a fresh pair bound to
// the same subject. Identity claims and provider tokens are not carried
// over; clients needing them run a new authorization flow.
func (b *Broker) Refresh(ctx context.Context, refreshToken, clientIP string) (*credential.Pair, error) {
	if refreshToken == "" {
		return nil, NewValidationError("refresh_token is required")
	}

	claims, err := b.credentials.Verify(refreshToken, credential.TypeRefresh)
	if err != nil {
		if m := b.metrics(); m != nil {
			m.RecordTokenRefresh(ctx, false)
		}
		switch {
		case errors.Is(err, credential.ErrExpired):
			return nil, NewAuthenticationError("Refresh token has expired")
		case errors.Is(err, credential.ErrWrongType):
			return nil, NewAuthenticationError("Token is not a refresh token")
		default:
			return nil, NewAuthenticationError("Invalid refresh token")
		}
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, NewAuthenticationError("Refresh token carries no subject")
	}

	pair, err := b.credentials.IssuePair(subject, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("issuing credentials: %w", err)
	}

	b.auditor.LogCredentialRefreshed(subject, clientIP)
	if m := b.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, true)
	}
	return pair, nil
}

// StartPolling creates a polling session bound to an authorization
// session's state, so native clients without a redirect channel can wait
// for the browser flow to complete.
func (b *Broker) StartPolling(ctx context.Context, req *StartPollingRequest) (*StartPollingResponse, error) {
	if req.State == "" {
		return nil, NewValidationError("state is required")
	}
	if req.SessionID == "" {
		return nil, NewValidationError("session_id is required")
	}

	pollingID, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generating polling id: %w", err)
	}

	now := time.Now()
	session := &storage.PollingSession{
		ID:        pollingID,
		SessionID: req.SessionID,
		State:     req.State,
		Status:    storage.PollingPending,
		CreatedAt: now,
		ExpiresAt: now.Add(b.config.PollingTTL),
	}
	if err := b.polling.SavePollingSession(ctx, session); err != nil {
		return nil, fmt.Errorf("saving polling session: %w", err)
	}

	if m := b.metrics(); m != nil {
		m.RecordPollingStarted(ctx)
	}
	b.logger.Debug("polling session started", "session_id", req.SessionID)

	return &StartPollingResponse{
		PollingID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// PollingStatus reports the state of a polling session. Missing and
// expired sessions are indistinguishable to the client.
func (b *Broker) PollingStatus(ctx context.Context, pollingID string) (*PollingStatusResponse, error) {
	session, err := b.polling.GetPollingSession(ctx, pollingID)
	if err != nil {
		if errors.Is(err, storage.ErrPollingSessionNotFound) {
			return &PollingStatusResponse{
				Status: "not_found",
				Error:  "Session not found or expired",
			}, nil
		}
		return nil, fmt.Errorf("loading polling session: %w", err)
	}

	resp := &PollingStatusResponse{
		Status:    string(session.Status),
		CreatedAt: &session.CreatedAt,
		ExpiresAt: &session.ExpiresAt,
	}
	switch session.Status {
	case storage.PollingCompleted:
		if session.Result != nil {
			resp.Result = &PollingResultPayload{
				Code:  session.Result.Code,
				State: session.Result.State,
			}
		}
		if m := b.metrics(); m != nil {
			m.RecordPollingResolved(ctx, string(session.Status))
		}
	case storage.PollingError:
		if session.Result != nil {
			resp.Error = session.Result.Error
			resp.ErrorDescription = session.Result.ErrorDescription
		}
		if m := b.metrics(); m != nil {
			m.RecordPollingResolved(ctx, string(session.Status))
		}
	}
	return resp, nil
}

// Logout revokes the provider tokens embedded in the access credential,
// best effort. Revocation failures are logged and never surfaced; the
// client is logged out either way.
func (b *Broker) Logout(ctx context.Context, claims map[string]any) *MessageResponse {
	subject, _ := claims["sub"].(string)
	tokens := credential.ProviderTokensFromClaims(claims)
	if tokens != nil {
		if tokens.AccessToken != "" {
			if err := b.provider.RevokeToken(ctx, tokens.AccessToken, "access_token"); err != nil {
				b.auditor.LogRevocationFailure(subject, "access_token", err)
			}
		}
		if tokens.RefreshToken != "" {
			if err := b.provider.RevokeToken(ctx, tokens.RefreshToken, "refresh_token"); err != nil {
				b.auditor.LogRevocationFailure(subject, "refresh_token", err)
			}
		}
	}
	return &MessageResponse{Message: "Logged out"}
}

// reserved claims that describe the credential itself, not the user.
var credentialClaims = map[string]struct{}{
	"type":            {},
	"jti":             {},
	"iat":             {},
	"exp":             {},
	"iss":             {},
	"provider_tokens": {},
}

// UserInfo projects an access credential's claims into the user payload
// for GET /auth/user, stripping credential bookkeeping.
func (b *Broker) UserInfo(claims map[string]any) *UserResponse {
	return &UserResponse{User: stripCredentialClaims(claims)}
}

// Claim source labels reported by ExtendedUserInfo.
const (
	SourceUserInfoEndpoint = "userinfo_endpoint"
	SourceCredentialClaims = "credential_claims"
)

// ExtendedUserInfo refetches live identity claims from the provider
// using the access token embedded in the credential. When the provider
// refuses the stored token with its token-binding quirk, the claims
// carried by the credential are served instead.
func (b *Broker) ExtendedUserInfo(ctx context.Context, claims map[string]any) (*ExtendedUserResponse, error) {
	tokens := credential.ProviderTokensFromClaims(claims)
	if tokens == nil || tokens.AccessToken == "" {
		return nil, NewValidationError("No provider access token available, authenticate again to get a fresh token")
	}

	identity, err := b.provider.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		if errors.Is(err, providers.ErrTokenBinding) {
			b.logger.Warn("userinfo refused the stored token, serving credential claims")
			return &ExtendedUserResponse{
				User:   stripCredentialClaims(claims),
				Source: SourceCredentialClaims,
			}, nil
		}
		if errors.Is(err, providers.ErrInvalidAccessToken) {
			return nil, NewAuthenticationError("Provider rejected the stored access token")
		}
		return nil, mapProviderError(err, "Failed to fetch extended user info")
	}

	return &ExtendedUserResponse{
		User:   identity.Claims(),
		Source: SourceUserInfoEndpoint,
	}, nil
}

func stripCredentialClaims(claims map[string]any) map[string]any {
	user := make(map[string]any, len(claims))
	for k, v := range claims {
		if _, reserved := credentialClaims[k]; reserved {
			continue
		}
		user[k] = v
	}
	return user
}

func (b *Broker) releaseSession(ctx context.Context, sessionID string) {
	if err := b.sessions.ReleaseSession(ctx, sessionID); err != nil {
		b.logger.Warn("releasing session", "session_id", sessionID, "error", err)
	}
}

// mapProviderError turns a provider error into the client-facing
// taxonomy. Every provider failure is an upstream failure; the
// provider's own error description is carried through when it has one.
func mapProviderError(err error, fallback string) error {
	var perr *providers.Error
	if errors.As(err, &perr) {
		return NewExternalServiceError(perr.Message())
	}
	return NewExternalServiceError(fallback)
}

func providerTokensFromOAuth2(token *oauth2.Token) *credential.ProviderTokens {
	tokens := &credential.ProviderTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if !token.Expiry.IsZero() {
		if remaining := int64(time.Until(token.Expiry).Seconds()); remaining > 0 {
			tokens.ExpiresIn = remaining
		}
	}
	return tokens
}

func userPayloadFromIdentity(identity *providers.Identity) UserPayload {
	return UserPayload{
		Subject:     identity.Subject,
		FirstName:   identity.GivenName,
		LastName:    identity.FamilyName,
		OIB:         identity.OIB,
		Email:       identity.Email,
		DateOfBirth: identity.BirthDate,
	}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
