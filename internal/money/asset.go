package money

import (
	"fmt"
	"sync"
)

// Asset represents a currency or token with its properties.
type Asset struct {
	Code     string // Asset code (USDC, SOL, XLM, NEAR, etc.)
	Decimals uint8  // Number of decimal places (6 for USDC, 9 for SOL, 7 for XLM, 24 for NEAR)
	Type     AssetType
	Metadata AssetMetadata
}

// AssetType categorizes the asset by the chain that settles it.
type AssetType int

const (
	AssetTypeSPL     AssetType = iota // Solana SPL token or native SOL
	AssetTypeStellar                  // Stellar native (XLM) or issued asset
	AssetTypeNEAR                      // NEAR native token or NEP-141 fungible token
)

// AssetMetadata contains chain-specific addressing information.
type AssetMetadata struct {
	SolanaMint      string // Solana token mint address (base58)
	StellarIssuer   string // Stellar issuing account (empty for native XLM)
	NEARTokenContract string // NEP-141 contract account id (empty for native NEAR)
}

var (
	assetRegistry = map[string]Asset{
		// Solana SPL Tokens
		"USDC": {
			Code:     "USDC",
			Decimals: 6, // micro-USDC
			Type:     AssetTypeSPL,
			Metadata: AssetMetadata{
				SolanaMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC mainnet
			},
		},
		"SOL": {
			Code:     "SOL",
			Decimals: 9, // lamports
			Type:     AssetTypeSPL,
			Metadata: AssetMetadata{
				SolanaMint: "So11111111111111111111111111111111111111112", // Wrapped SOL
			},
		},
		"USDT": {
			Code:     "USDT",
			Decimals: 6, // micro-USDT
			Type:     AssetTypeSPL,
			Metadata: AssetMetadata{
				SolanaMint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT mainnet
			},
		},

		// Stellar
		"XLM": {
			Code:     "XLM",
			Decimals: 7, // stroops
			Type:     AssetTypeStellar,
		},
		"USDC-STELLAR": {
			Code:     "USDC-STELLAR",
			Decimals: 7,
			Type:     AssetTypeStellar,
			Metadata: AssetMetadata{
				StellarIssuer: "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN", // Circle USDC issuer
			},
		},

		// NEAR
		"NEAR": {
			Code:     "NEAR",
			Decimals: 24, // yoctoNEAR
			Type:     AssetTypeNEAR,
		},
		"USDC-NEAR": {
			Code:     "USDC-NEAR",
			Decimals: 6,
			Type:     AssetTypeNEAR,
			Metadata: AssetMetadata{
				NEARTokenContract: "usdc.fakes.testnet",
			},
		},
	}
	assetRegistryMu sync.RWMutex
)

// GetAsset retrieves an asset from the registry.
func GetAsset(code string) (Asset, error) {
	assetRegistryMu.RLock()
	asset, ok := assetRegistry[code]
	assetRegistryMu.RUnlock()

	if !ok {
		return Asset{}, fmt.Errorf("money: unknown asset: %s", code)
	}
	return asset, nil
}

// MustGetAsset retrieves an asset and panics if not found (for tests/constants).
func MustGetAsset(code string) Asset {
	asset, err := GetAsset(code)
	if err != nil {
		panic(err)
	}
	return asset
}

// RegisterAsset adds a new asset to the registry (for testing or dynamic tokens).
func RegisterAsset(asset Asset) error {
	if asset.Code == "" {
		return fmt.Errorf("money: asset code required")
	}
	if asset.Decimals > 24 {
		return fmt.Errorf("money: decimals must be <= 24")
	}

	assetRegistryMu.Lock()
	assetRegistry[asset.Code] = asset
	assetRegistryMu.Unlock()

	return nil
}

// ListAssets returns all registered assets.
func ListAssets() []Asset {
	assetRegistryMu.RLock()
	assets := make([]Asset, 0, len(assetRegistry))
	for _, asset := range assetRegistry {
		assets = append(assets, asset)
	}
	assetRegistryMu.RUnlock()

	return assets
}

// IsSPLToken returns true if the asset settles on Solana.
func (a Asset) IsSPLToken() bool {
	return a.Type == AssetTypeSPL
}

// IsStellarAsset returns true if the asset settles on Stellar.
func (a Asset) IsStellarAsset() bool {
	return a.Type == AssetTypeStellar
}

// IsNEARAsset returns true if the asset settles on NEAR.
func (a Asset) IsNEARAsset() bool {
	return a.Type == AssetTypeNEAR
}

// GetSolanaMint returns the Solana mint address or error.
func (a Asset) GetSolanaMint() (string, error) {
	if !a.IsSPLToken() {
		return "", fmt.Errorf("money: %s is not an SPL token", a.Code)
	}
	return a.Metadata.SolanaMint, nil
}

// GetStellarIssuer returns the Stellar issuing account, or empty string for
// native XLM.
func (a Asset) GetStellarIssuer() (string, error) {
	if !a.IsStellarAsset() {
		return "", fmt.Errorf("money: %s is not a Stellar asset", a.Code)
	}
	return a.Metadata.StellarIssuer, nil
}

// GetNEARTokenContract returns the NEP-141 contract account, or empty
// string for native NEAR.
func (a Asset) GetNEARTokenContract() (string, error) {
	if !a.IsNEARAsset() {
		return "", fmt.Errorf("money: %s is not a NEAR asset", a.Code)
	}
	return a.Metadata.NEARTokenContract, nil
}
