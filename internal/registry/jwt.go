package registry

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RemoteClaims are the JWT claims HQ issues a remote at registration time.
// HQ sends the signed token as the Authorization bearer on its own requests
// to that remote (§6.4); ValidateRemoteToken verifies one.
// HS256 rather than the teacher's ES256: HQ is the sole issuer and sole
// verifier of these tokens (unlike a wing presenting its own identity
// keypair), so a symmetric secret is sufficient and avoids keeping a
// public/private keypair around per remote.
type RemoteClaims struct {
	jwt.RegisteredClaims
	RemoteID string `json:"remoteId"`
}

// issueRemoteToken creates an HS256 JWT bearer token for a newly registered
// remote, signed with HQ's secret.
func issueRemoteToken(secret []byte, remoteID string) (string, error) {
	claims := RemoteClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  remoteID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		RemoteID: remoteID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("registry: sign remote token: %w", err)
	}
	return signed, nil
}

// ValidateRemoteToken verifies an HS256 bearer token issued by this HQ.
func ValidateRemoteToken(secret []byte, tokenString string) (*RemoteClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RemoteClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: parse remote token: %w", err)
	}
	claims, ok := token.Claims.(*RemoteClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("registry: invalid remote token claims")
	}
	return claims, nil
}
