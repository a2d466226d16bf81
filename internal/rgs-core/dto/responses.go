package dto

import "time"

type SessionResponse struct {
	SessionID    string    `json:"sessionId"`
	PlayerID     string    `json:"playerId"`
	OperatorCode string    `json:"operatorCode"`
	GameCode     string    `json:"gameCode"`
	Currency     string    `json:"currency"`
	Balance      int64     `json:"balance"`
	Status       string    `json:"status"` // ACTIVE | EXPIRED | CLOSED
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
