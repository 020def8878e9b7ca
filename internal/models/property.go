package models

// Property represents a tokenized real-estate listing
type Property struct {
	ID            int64   `json:"id"`
	OwnerID       int64   `json:"owner_id"`
	Title         string  `json:"title"`
	Address       string  `json:"address"`
	ListPrice     float64 `json:"list_price"`
	TokenPrice    float64 `json:"token_price"`
	TotalTokens   int     `json:"total_tokens"`
	PayoutAccount string  `json:"-"` // Stored encrypted
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}
