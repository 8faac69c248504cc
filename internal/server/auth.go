package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the resolved caller identity for one connection. Guests
// have no UserID and their rating is never authoritative.
type Identity struct {
	UserID      string `json:"userId,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Elo         int    `json:"elo"`
	IsGuest     bool   `json:"isGuest"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

const guestRating = 1000

// identityFromRequest resolves the bearer token presented at connection
// time. The token is trusted fully once verified; a missing or invalid
// token degrades to an anonymous guest.
func identityFromRequest(r *http.Request, secret string) Identity {
	token := r.URL.Query().Get("token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		token, _ = strings.CutPrefix(auth, "Bearer ")
	}
	if token == "" {
		return guestIdentity()
	}
	return identityFromToken(token, secret)
}

func identityFromToken(tokenString, secret string) Identity {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return guestIdentity()
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return guestIdentity()
	}

	id := Identity{
		UserID:      claimString(claims, "sub"),
		Username:    claimString(claims, "username"),
		DisplayName: claimString(claims, "displayName"),
		AvatarURL:   claimString(claims, "avatarUrl"),
		Elo:         claimInt(claims, "elo"),
	}
	if guest, ok := claims["isGuest"].(bool); ok {
		id.IsGuest = guest
	}
	if id.UserID == "" {
		return guestIdentity()
	}
	if id.Elo == 0 {
		id.Elo = guestRating
	}
	if id.Username == "" {
		id.Username = "Player_" + id.UserID[:min(8, len(id.UserID))]
	}
	return id
}

func guestIdentity() Identity {
	return Identity{
		Username: "Guest_" + uuid.NewString()[:8],
		Elo:      guestRating,
		IsGuest:  true,
	}
}

func claimString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func claimInt(claims jwt.MapClaims, key string) int {
	// JSON numbers decode as float64.
	f, _ := claims[key].(float64)
	return int(f)
}
