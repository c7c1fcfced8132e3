package domain

// TokenInfo describes a tradable token and the pool vaults used for streaming prices.
// Curation of this list happens outside the trader; it is read-only here.
type TokenInfo struct {
	Mint       string    // token mint address
	Name       string    // display name
	Decimals   int       // token decimals
	QuoteVault string    // vault holding the quote side (USDC or wSOL)
	TokenVault string    // vault holding the token side
	RouteBase  RouteBase // preferred quote asset
}

// DisplayName returns the name, or a shortened mint when the name is empty.
func (t *TokenInfo) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	if len(t.Mint) > 6 {
		return t.Mint[:6]
	}
	return t.Mint
}

// Validate checks that the token carries everything the trader needs.
func (t *TokenInfo) Validate() error {
	switch {
	case t.Mint == "":
		return &InvalidTokenError{Mint: t.Mint, Field: "mint"}
	case t.Decimals < 0:
		return &InvalidTokenError{Mint: t.Mint, Field: "decimals"}
	case t.QuoteVault == "" || t.TokenVault == "":
		return &InvalidTokenError{Mint: t.Mint, Field: "vaults"}
	case !t.RouteBase.IsValid():
		return &InvalidTokenError{Mint: t.Mint, Field: "route_base"}
	}
	return nil
}
