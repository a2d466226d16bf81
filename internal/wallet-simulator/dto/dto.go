package dto

// TokenRequest cria (ou reaproveita) a carteira e emite o token de lançamento
type TokenRequest struct {
	PlayerID string `json:"playerId"`
	Currency string `json:"currency"`
	Balance  *int64 `json:"balance,omitempty"` // saldo inicial; só vale na criação
}

type TokenResponse struct {
	Token    string `json:"token"`
	PlayerID string `json:"playerId"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

type WalletResponse struct {
	PlayerID string `json:"playerId"`
	WalletID string `json:"walletId"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}
