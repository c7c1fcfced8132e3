package domain

// Source identifies where a price tick came from.
type Source string

const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is a valid value.
func (s Source) IsValid() bool {
	return s == SourceStream || s == SourcePoll
}

// RouteBase is the quote asset a token is normally traded against.
type RouteBase string

const (
	RouteBaseUSDC RouteBase = "USDC"
	RouteBaseSOL  RouteBase = "SOL"
)

// IsValid checks if the route base is a valid value.
func (b RouteBase) IsValid() bool {
	return b == RouteBaseUSDC || b == RouteBaseSOL
}

// Other returns the alternative base used as fallback.
func (b RouteBase) Other() RouteBase {
	if b == RouteBaseSOL {
		return RouteBaseUSDC
	}
	return RouteBaseSOL
}

// Mint returns the mint address of the base asset.
func (b RouteBase) Mint() string {
	if b == RouteBaseSOL {
		return SOLMint
	}
	return USDCMint
}

// Well-known mints.
const (
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	SOLMint  = "So11111111111111111111111111111111111111112"

	USDCDecimals = 6
	SOLDecimals  = 9
)
