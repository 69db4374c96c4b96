package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oncallhq/mmbridge/internal/store"
)

func newTestCodec(t *testing.T) (*Codec, *store.Store) {
	t.Helper()
	s, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewCodec(s), s
}

func seedOrgUser(t *testing.T, s *store.Store, title string) (orgID, userID int64) {
	t.Helper()
	ctx := context.Background()
	org, err := s.CreateOrganization(ctx, title)
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	user, err := s.CreateUser(ctx, org.ID, "issuer")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return org.ID, user.ID
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	codec, s := newTestCodec(t)
	ctx := context.Background()
	orgID, userID := seedOrgUser(t, s, "Org A")

	record, tokenString, err := codec.Issue(ctx, userID, orgID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tokenString == "" {
		t.Fatal("expected non-empty token string")
	}
	if record.Secret == "" || !strings.Contains(record.Secret, "PUBLIC KEY") {
		t.Errorf("record secret should hold a public key PEM, got %q", record.Secret)
	}

	got, err := codec.Verify(ctx, tokenString)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != record.ID {
		t.Errorf("record ID: got %s, want %s", got.ID, record.ID)
	}
	if got.OrganizationID != orgID {
		t.Errorf("OrganizationID: got %d, want %d", got.OrganizationID, orgID)
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	codec, s := newTestCodec(t)
	ctx := context.Background()
	orgID, userID := seedOrgUser(t, s, "Org A")

	_, tokenString, err := codec.Issue(ctx, userID, orgID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 token segments, got %d", len(parts))
	}
	// Replace the payload; the signature no longer matches.
	forged := parts[0] + ".eyJpc3MiOiJvbmNhbGwiLCJhdWQiOiJtYXR0ZXJtb3N0In0." + parts[2]

	if _, err := codec.Verify(ctx, forged); err != ErrInvalidToken {
		t.Errorf("tampered token: got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	codec, _ := newTestCodec(t)
	ctx := context.Background()

	for _, bad := range []string{"", "garbage", "a.b.c"} {
		if _, err := codec.Verify(ctx, bad); err != ErrInvalidToken {
			t.Errorf("Verify(%q): got %v, want ErrInvalidToken", bad, err)
		}
	}
}

func TestVerifyUnknownKid(t *testing.T) {
	codec, s := newTestCodec(t)
	ctx := context.Background()
	orgID, userID := seedOrgUser(t, s, "Org A")

	record, tokenString, err := codec.Issue(ctx, userID, orgID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := s.RevokeAuthToken(ctx, record.ID); err != nil {
		t.Fatalf("RevokeAuthToken: %v", err)
	}

	// The kid no longer names an active record.
	if _, err := codec.Verify(ctx, tokenString); err != ErrInvalidToken {
		t.Errorf("revoked token: got %v, want ErrInvalidToken", err)
	}
}

func TestIssueSupersedesPriorToken(t *testing.T) {
	codec, s := newTestCodec(t)
	ctx := context.Background()
	orgID, userID := seedOrgUser(t, s, "Org A")

	_, first, err := codec.Issue(ctx, userID, orgID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, second, err := codec.Issue(ctx, userID, orgID)
	if err != nil {
		t.Fatalf("Issue (second): %v", err)
	}

	if _, err := codec.Verify(ctx, first); err != ErrInvalidToken {
		t.Errorf("superseded token: got %v, want ErrInvalidToken", err)
	}
	if _, err := codec.Verify(ctx, second); err != nil {
		t.Errorf("current token should verify: %v", err)
	}
}

// TestCrossKeyForgery signs a token naming organization B's kid with a key
// B never owned. Verification against B's stored public key must fail.
func TestCrossKeyForgery(t *testing.T) {
	codec, s := newTestCodec(t)
	ctx := context.Background()
	orgB, userB := seedOrgUser(t, s, "Org B")

	// B's legitimate record, keyed by a keypair we control.
	goodKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	recordB, err := s.CreateAuthToken(ctx, userB, orgB, publicPEM(t, goodKey))
	if err != nil {
		t.Fatalf("CreateAuthToken: %v", err)
	}

	// Forge: correct kid, wrong signing key.
	attackerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	forged := signTestToken(t, recordB.ID, attackerKey)
	if _, err := codec.Verify(ctx, forged); err != ErrInvalidToken {
		t.Errorf("forged token: got %v, want ErrInvalidToken", err)
	}

	// Control: same claims signed with the matching key verify fine.
	legit := signTestToken(t, recordB.ID, goodKey)
	if _, err := codec.Verify(ctx, legit); err != nil {
		t.Errorf("legitimate token should verify: %v", err)
	}
}

func TestVerifyWrongAudience(t *testing.T) {
	codec, s := newTestCodec(t)
	ctx := context.Background()
	orgID, userID := seedOrgUser(t, s, "Org A")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	record, err := s.CreateAuthToken(ctx, userID, orgID, publicPEM(t, key))
	if err != nil {
		t.Fatalf("CreateAuthToken: %v", err)
	}

	jt := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:   issuer,
		Audience: jwt.ClaimStrings{"somewhere-else"},
	})
	jt.Header["kid"] = record.ID
	signed, err := jt.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := codec.Verify(ctx, signed); err != ErrInvalidToken {
		t.Errorf("wrong audience: got %v, want ErrInvalidToken", err)
	}
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signTestToken(t *testing.T, kid string, key *rsa.PrivateKey) string {
	t.Helper()
	jt := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:   issuer,
		Audience: jwt.ClaimStrings{audience},
	})
	jt.Header["kid"] = kid
	signed, err := jt.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}
