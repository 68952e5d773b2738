package domain

import "time"

// Token is a short-lived bearer credential. It lives only inside the token cache.
type Token struct {
	Value     string
	ExpiresAt time.Time
}
