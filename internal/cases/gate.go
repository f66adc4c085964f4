package cases

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The password gate is stateless: a successful unlock yields a short-lived
// token bound to one case, presented back via the X-Case-Unlock header.
// Nothing is persisted, so navigating away and back re-locks.

const unlockTTL = 30 * time.Minute

type unlockClaims struct {
	CaseID string `json:"case_id"`
	jwt.RegisteredClaims
}

// issueUnlockToken signs a token proving the caller passed the case's
// password check.
func issueUnlockToken(caseID string) (string, error) {
	claims := &unlockClaims{
		CaseID: caseID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(unlockTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(os.Getenv("JWT_SECRET")))
}

// verifyUnlockToken reports whether the token is valid for this exact case.
func verifyUnlockToken(tokenStr, caseID string) bool {
	if tokenStr == "" {
		return false
	}
	token, err := jwt.ParseWithClaims(tokenStr, &unlockClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(os.Getenv("JWT_SECRET")), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(*unlockClaims)
	return ok && claims.CaseID == caseID
}
