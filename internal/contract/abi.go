package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Marketplace method names.
const (
	MethodGetCarLength = "getCarLength"
	MethodGetCar       = "getCar"
	MethodAddCar       = "addCar"
	MethodLikeCar      = "likeCar"
	MethodDislikeCar   = "dislikeCar"
	MethodAddReview    = "addReview"
	MethodBuyCar       = "BuyCar"
)

// ERC20 method names.
const (
	MethodApprove   = "approve"
	MethodBalanceOf = "balanceOf"
)

const marketplaceABIJSON = `[
  {"type":"function","name":"getCarLength","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getCar","stateMutability":"view",
   "inputs":[{"name":"_index","type":"uint256"}],
   "outputs":[
     {"name":"owner","type":"address"},
     {"name":"brand","type":"string"},
     {"name":"model","type":"string"},
     {"name":"image","type":"string"},
     {"name":"likes","type":"uint256"},
     {"name":"dislikes","type":"uint256"},
     {"name":"price","type":"uint256"},
     {"name":"carsAvailable","type":"uint256"},
     {"name":"numberOfReviews","type":"uint256"},
     {"name":"reviews","type":"tuple[]","components":[
       {"name":"postId","type":"uint256"},
       {"name":"reviewerMessage","type":"string"}
     ]}
   ]},
  {"type":"function","name":"addCar","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_brand","type":"string"},
     {"name":"_model","type":"string"},
     {"name":"_image","type":"string"},
     {"name":"_price","type":"uint256"},
     {"name":"_carsAvailable","type":"uint256"}
   ],"outputs":[]},
  {"type":"function","name":"likeCar","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"dislikeCar","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"addReview","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"},{"name":"_reviewerMessage","type":"string"}],"outputs":[]},
  {"type":"function","name":"BuyCar","stateMutability":"payable",
   "inputs":[{"name":"_index","type":"uint256"}],"outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	marketplaceABI = mustParseABI(marketplaceABIJSON)
	tokenABI       = mustParseABI(erc20ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// MarketplaceABI returns the parsed marketplace ABI.
func MarketplaceABI() abi.ABI { return marketplaceABI }

// TokenABI returns the parsed ERC20 ABI.
func TokenABI() abi.ABI { return tokenABI }

// RawListing is the decoded getCar result. Field names follow the ABI output names.
type RawListing struct {
	Owner           common.Address
	Brand           string
	Model           string
	Image           string
	Likes           *big.Int
	Dislikes        *big.Int
	Price           *big.Int
	CarsAvailable   *big.Int
	NumberOfReviews *big.Int
	Reviews         []RawReview
}

// RawReview is one element of the getCar reviews tuple array.
type RawReview struct {
	PostId          *big.Int //nolint:revive // matches the ABI component name
	ReviewerMessage string
}

func decodeListing(data []byte) (RawListing, error) {
	var out RawListing
	if err := marketplaceABI.UnpackIntoInterface(&out, MethodGetCar, data); err != nil {
		return RawListing{}, fmt.Errorf("unpack %s: %w", MethodGetCar, err)
	}
	return out, nil
}

func decodeUint(a abi.ABI, method string, data []byte) (*big.Int, error) {
	values, err := a.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	return v, nil
}
