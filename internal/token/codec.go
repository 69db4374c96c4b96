package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oncallhq/mmbridge/internal/model"
	"github.com/oncallhq/mmbridge/internal/store"
)

const (
	issuer   = "oncall"
	audience = "mattermost"

	// rsaKeySize is the modulus size for freshly generated signing keys.
	rsaKeySize = 2048
)

// signingMethod is the only accepted algorithm. Tokens claiming anything
// else are rejected before signature verification.
var signingMethod = jwt.SigningMethodRS256

// ErrInvalidToken is the single error surfaced for any verification
// failure: malformed token, unknown or revoked kid, wrong algorithm, bad
// signature, wrong audience. Callers cannot distinguish the causes, so the
// HTTP boundary cannot leak them either.
var ErrInvalidToken = errors.New("invalid auth token")

// Codec mints and verifies app verification tokens. Each token is an RS256
// JWT whose kid header names a stored record holding the public key; the
// private key signs once at issue time and is discarded.
type Codec struct {
	store *store.Store
}

// NewCodec creates a Codec backed by the given store.
func NewCodec(s *store.Store) *Codec {
	return &Codec{store: s}
}

// Issue generates a fresh RSA keypair, persists the public half as a new
// token record for the organization (superseding any prior active record),
// and returns the record along with the signed token string. The private
// key never leaves this function.
func (c *Codec) Issue(ctx context.Context, userID, orgID int64) (*model.AuthToken, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return nil, "", fmt.Errorf("generate keypair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	record, err := c.store.CreateAuthToken(ctx, userID, orgID, string(pubPEM))
	if err != nil {
		return nil, "", fmt.Errorf("persist token record: %w", err)
	}

	t := jwt.NewWithClaims(signingMethod, jwt.RegisteredClaims{
		Issuer:   issuer,
		Audience: jwt.ClaimStrings{audience},
	})
	t.Header["kid"] = record.ID

	signed, err := t.SignedString(priv)
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return record, signed, nil
}

// Verify resolves the token's kid to a stored record and checks the
// signature against that record's public key. Only active (non-revoked)
// records are considered. Every failure mode returns ErrInvalidToken.
func (c *Codec) Verify(ctx context.Context, tokenString string) (*model.AuthToken, error) {
	kid, err := extractKid(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}

	record, err := c.store.GetActiveAuthToken(ctx, kid)
	if err != nil {
		return nil, ErrInvalidToken
	}

	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(record.Secret))
	if err != nil {
		return nil, ErrInvalidToken
	}

	_, err = jwt.Parse(tokenString,
		func(t *jwt.Token) (interface{}, error) { return pub, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return record, nil
}

// extractKid reads the kid header without verifying the signature; the
// signature cannot be checked until the kid names which key to check with.
func extractKid(tokenString string) (string, error) {
	t, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return "", errors.New("missing kid header")
	}
	return kid, nil
}
