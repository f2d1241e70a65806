package ethereum

import (
	"context"
	"errors"
	"strings"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/pkg/validation"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ENSRegistry is the mainnet ENS registry.
const ENSRegistry = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

// Token is an ERC-20 contract on the balance allow-list.
type Token struct {
	Symbol   string
	Name     string
	Contract string
	Decimals int32
	PriceID  string
	ImageURL string
}

// Native is the chain's own currency.
var Native = Token{
	Symbol:   "ETH",
	Name:     "Ethereum",
	Decimals: 18,
	PriceID:  "ethereum",
	ImageURL: "https://assets.coingecko.com/coins/images/279/large/ethereum.png",
}

// DefaultTokens is the fixed allow-list read for every wallet.
var DefaultTokens = []Token{
	{Symbol: "USDT", Name: "Tether", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6, PriceID: "tether",
		ImageURL: "https://assets.coingecko.com/coins/images/325/large/Tether.png"},
	{Symbol: "USDC", Name: "USD Coin", Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, PriceID: "usd-coin",
		ImageURL: "https://assets.coingecko.com/coins/images/6319/large/usdc.png"},
	{Symbol: "DAI", Name: "Dai", Contract: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18, PriceID: "dai",
		ImageURL: "https://assets.coingecko.com/coins/images/9956/large/Badge_Dai.png"},
	{Symbol: "WBTC", Name: "Wrapped Bitcoin", Contract: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8, PriceID: "wrapped-bitcoin",
		ImageURL: "https://assets.coingecko.com/coins/images/7598/large/wrapped_bitcoin_wbtc.png"},
	{Symbol: "LINK", Name: "Chainlink", Contract: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Decimals: 18, PriceID: "chainlink",
		ImageURL: "https://assets.coingecko.com/coins/images/877/large/chainlink-new-logo.png"},
	{Symbol: "UNI", Name: "Uniswap", Contract: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Decimals: 18, PriceID: "uniswap",
		ImageURL: "https://assets.coingecko.com/coins/images/12504/large/uni.jpg"},
}

// upstream translates transport and RPC failures into the domain taxonomy.
func upstream(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Upstream("chain reader: "+op+" failed", err)
}

// ResolveIdentity accepts a hex address or an ENS name. Addresses are returned
// lower-cased without a lookup; names are resolved through the ENS registry.
func (c *Client) ResolveIdentity(ctx context.Context, nameOrAddress string) (domain.Identity, error) {
	in := strings.TrimSpace(nameOrAddress)
	if validation.IsHexAddress(in) {
		return domain.Identity{Address: domain.NormalizeAddress(in)}, nil
	}
	if strings.HasPrefix(strings.ToLower(in), "0x") || !validation.IsENSName(in) {
		return domain.Identity{}, domain.Invalid("%q is neither an address nor an ENS name", nameOrAddress)
	}

	name := strings.ToLower(in)
	node := Namehash(name)
	ret, err := c.ethCall(ctx, ENSRegistry, callData(selectorResolver, node))
	if err != nil {
		return domain.Identity{}, upstream("resolver lookup", err)
	}
	resolver := wordAddress(ret)
	if isZeroAddress(resolver) {
		return domain.Identity{}, domain.NotFound("ENS name %s is not registered", name)
	}

	ret, err = c.ethCall(ctx, resolver, callData(selectorAddr, node))
	if err != nil {
		return domain.Identity{}, upstream("address lookup", err)
	}
	addr := wordAddress(ret)
	if isZeroAddress(addr) {
		return domain.Identity{}, domain.NotFound("ENS name %s has no address", name)
	}
	return domain.Identity{Address: domain.NormalizeAddress(addr), DisplayName: name}, nil
}

// ReadBalances returns the native balance followed by every allow-listed token,
// zero balances included.
func (c *Client) ReadBalances(ctx context.Context, address string) ([]domain.ChainBalance, error) {
	if !validation.IsHexAddress(address) {
		return nil, domain.Invalid("malformed address %q", address)
	}
	word, err := addressWord(address)
	if err != nil {
		return nil, domain.Invalid("malformed address %q", address)
	}

	out := make([]domain.ChainBalance, len(c.tokens)+1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var hexWei string
		if err := c.call(gctx, "eth_getBalance", []interface{}{address, "latest"}, &hexWei); err != nil {
			return upstream("native balance", err)
		}
		wei, err := parseQuantity(hexWei)
		if err != nil {
			return upstream("native balance", err)
		}
		out[0] = balanceOf(Native, "native", decimal.NewFromBigInt(wei, -Native.Decimals))
		return nil
	})
	for i, tok := range c.tokens {
		g.Go(func() error {
			ret, err := c.ethCall(gctx, tok.Contract, callData(selectorBalanceOf, word))
			if err != nil {
				return upstream(tok.Symbol+" balance", err)
			}
			amount := decimal.NewFromBigInt(wordUint(ret), -tok.Decimals)
			out[i+1] = balanceOf(tok, strings.ToLower(tok.Contract), amount)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func balanceOf(t Token, key string, amount decimal.Decimal) domain.ChainBalance {
	return domain.ChainBalance{
		AssetKey: key,
		Symbol:   t.Symbol,
		Name:     t.Name,
		PriceID:  t.PriceID,
		Balance:  amount,
		ImageURL: t.ImageURL,
	}
}
