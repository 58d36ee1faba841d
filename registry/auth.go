package registry

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/golang-jwt/jwt/v4"
)

// ErrTypeUnauthorized is the error type that reports a rejected user
// token.
const ErrTypeUnauthorized = "registry_unauthorized"

// VerifyUserAuth checks that the given user token is an HS256 JWT
// signed with the auth secret obtained at pairing.
func (c *Client) VerifyUserAuth(token string) error {
	if token == "" {
		return errors.New("user token is missing").
			WithType(ErrTypeUnauthorized)
	}

	secret := c.GetAuthSecret()
	if secret == "" {
		return errors.New("server is not paired with the registry").
			WithType(ErrTypeUnauthorized)
	}

	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected token signing method").
				WithTag("alg", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return errors.New("verifying user token failed").
			WithType(ErrTypeUnauthorized).
			Wrap(err)
	}
	return nil
}
