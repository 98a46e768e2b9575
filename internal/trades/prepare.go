// Package trades prepares unsigned exchange transactions for the terminal.
// The server never holds keys and never signs: it checks the live book for
// fillable size, then encodes calldata the wallet signs client-side.
//
// This path is a pure encoding collaborator — it does not match orders
// against the book beyond the liquidity sufficiency check, and makes no
// claim of execution-quality correctness.
package trades

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"market-intel/pkg/types"
)

var (
	// ErrInsufficientLiquidity reports that the book cannot fill the
	// requested size.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for requested size")
	// ErrNoBook reports that no live book exists for the pair.
	ErrNoBook = errors.New("no live order book for market")
)

// exchangeABI is the minimal surface of the exchange contract the terminal
// fills against.
const exchangeABI = `[{"name":"fillOrder","type":"function","inputs":[
	{"name":"maker","type":"address"},
	{"name":"tokenId","type":"uint256"},
	{"name":"makerAmount","type":"uint256"},
	{"name":"takerAmount","type":"uint256"},
	{"name":"side","type":"uint8"}]}]`

// usdcScale converts human sizes to 6-decimal token units.
var usdcScale = decimal.New(1, 6)

// Request is one preparation ask.
type Request struct {
	Wallet      string        `json:"wallet"`
	ConditionID string        `json:"conditionId"`
	Outcome     types.Outcome `json:"outcome"`
	Side        string        `json:"side"` // "buy" | "sell"
	Size        string        `json:"size"` // decimal string, outcome tokens
}

// Unsigned is the prepared transaction returned to the client.
type Unsigned struct {
	To        string `json:"to"`
	Data      string `json:"data"`
	Value     string `json:"value"`
	ChainID   int64  `json:"chainId"`
	AvgPrice  string `json:"avgPrice"`
	CostUSDC  string `json:"cost"`
	FillSize  string `json:"fillSize"`
}

// BookView is the live-book capability the preparer reads.
type BookView interface {
	Levels() (bids, asks []types.PriceLevel)
}

// Preparer encodes unsigned transactions.
type Preparer struct {
	abi      abi.ABI
	exchange common.Address
	chainID  int64
}

// NewPreparer creates the preparer for an exchange contract address.
func NewPreparer(exchangeAddr string, chainID int64) (*Preparer, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABI))
	if err != nil {
		return nil, fmt.Errorf("parse exchange abi: %w", err)
	}
	return &Preparer{
		abi:      parsed,
		exchange: common.HexToAddress(exchangeAddr),
		chainID:  chainID,
	}, nil
}

// Prepare walks the opposing side of the book for the requested size and
// encodes the fill calldata. The book walk prices the fill; it does not
// reserve anything.
func (p *Preparer) Prepare(req Request, book BookView, tokenID string) (*Unsigned, error) {
	if book == nil {
		return nil, ErrNoBook
	}

	size, err := decimal.NewFromString(req.Size)
	if err != nil || size.Sign() <= 0 {
		return nil, fmt.Errorf("invalid size %q", req.Size)
	}

	bids, asks := book.Levels()
	var ladder []types.PriceLevel
	var sideCode uint8
	switch strings.ToLower(req.Side) {
	case "buy":
		ladder, sideCode = asks, 0
	case "sell":
		ladder, sideCode = bids, 1
	default:
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}

	cost, filled, err := walkLadder(ladder, size)
	if err != nil {
		return nil, err
	}
	avgPrice := cost.Div(filled)

	token, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	makerAmount := cost.Mul(usdcScale).Truncate(0).BigInt()
	takerAmount := filled.Mul(usdcScale).Truncate(0).BigInt()
	if sideCode == 1 {
		makerAmount, takerAmount = takerAmount, makerAmount
	}

	data, err := p.abi.Pack("fillOrder",
		common.HexToAddress(req.Wallet), token, makerAmount, takerAmount, sideCode)
	if err != nil {
		return nil, fmt.Errorf("pack calldata: %w", err)
	}

	return &Unsigned{
		To:       p.exchange.Hex(),
		Data:     "0x" + common.Bytes2Hex(data),
		Value:    "0",
		ChainID:  p.chainID,
		AvgPrice: avgPrice.StringFixed(4),
		CostUSDC: cost.StringFixed(6),
		FillSize: filled.String(),
	}, nil
}

// walkLadder consumes levels until the requested size fills, returning the
// total cost. Runs out of depth → ErrInsufficientLiquidity.
func walkLadder(ladder []types.PriceLevel, size decimal.Decimal) (cost, filled decimal.Decimal, err error) {
	remaining := size
	for _, lv := range ladder {
		price, perr := decimal.NewFromString(lv.Price)
		if perr != nil {
			continue
		}
		avail, serr := decimal.NewFromString(lv.Size)
		if serr != nil {
			continue
		}

		take := decimal.Min(remaining, avail)
		cost = cost.Add(take.Mul(price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
		if remaining.Sign() <= 0 {
			return cost, filled, nil
		}
	}
	return decimal.Zero, decimal.Zero, ErrInsufficientLiquidity
}
