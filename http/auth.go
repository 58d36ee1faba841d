package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/net/websocket"
)

const (
	// HeaderClientID carries the caller-chosen client id used to
	// correlate logs and metrics across a connection.
	HeaderClientID = "X-Ingwaz-Client-Id"

	HeaderXForwardedFor = "X-Forwarded-For"

	accessTokenQueryKey = "access_token"
)

// UserAuthVerifier checks user access tokens. It is implemented by the
// registry client once the server is paired.
type UserAuthVerifier interface {
	VerifyUserAuth(token string) error
}

// VerifyAuthToken returns a websocket handshake function that rejects
// connections without a verified user token.
func VerifyAuthToken(ctx context.Context, verifier UserAuthVerifier) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		token := GetUserTokenFromHTTPRequest(r)

		if err := verifier.VerifyUserAuth(token); err != nil {
			logs.WithClientID(r.Header.Get(HeaderClientID)).Error(err)
			return err
		}

		return nil
	}
}

// VerifyAuthTokenHandler decorates the given handler with user token
// verification.
func VerifyAuthTokenHandler(verifier UserAuthVerifier, next http.HandlerFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		token := GetUserTokenFromHTTPRequest(r)

		if err := verifier.VerifyUserAuth(token); err != nil {
			logs.WithClientID(r.Header.Get(HeaderClientID)).Error(err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// GetUserTokenFromHTTPRequest extracts the user access token from the
// Authorization header, falling back to the access_token query
// parameter for websocket clients that cannot set headers.
func GetUserTokenFromHTTPRequest(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get(accessTokenQueryKey)
}

// GetAppKeyFromUserToken returns the app_key claim of the given user
// token without verifying it. Logs and metrics label by app key before
// auth runs, so a bogus token simply yields an empty key.
func GetAppKeyFromUserToken(token string) string {
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}

	appKey, _ := claims["app_key"].(string)
	return appKey
}

// GenerateUserAccessToken issues an HS256 user token signed with the
// given secret, used by the server to call itself during smoke tests.
func GenerateUserAccessToken(appKey, secret string, ttl time.Duration) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"app_key": appKey,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(ttl).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		return "", errors.New("signing user access token failed").Wrap(err)
	}
	return token, nil
}
