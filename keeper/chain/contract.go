package chain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	contractModule = "momo"
	maxDecimals    = 18
)

// CoreContract translates command fields into Payload descriptors for the
// core contract's entry functions and owns the exact conversion between
// human-readable amounts and the chain's fixed-point integer representation.
type CoreContract struct {
	contractID string
	decimals   int32
}

func NewCoreContract(contractID string, decimals int) (*CoreContract, error) {
	if contractID == "" {
		return nil, fmt.Errorf("contract id is required")
	}
	if decimals < 0 || decimals > maxDecimals {
		return nil, fmt.Errorf("decimals %d out of range [0, %d]", decimals, maxDecimals)
	}
	return &CoreContract{contractID: contractID, decimals: int32(decimals)}, nil
}

func (c *CoreContract) entry(name string) string {
	return fmt.Sprintf("%s::%s::%s", c.contractID, contractModule, name)
}

// View function names, used by gateway implementations.
func (c *CoreContract) ViewResourceAccount() string { return c.entry("try_get_user_resource_account") }
func (c *CoreContract) ViewAccountExists() string   { return c.entry("resource_account_exists") }
func (c *CoreContract) ViewBalance() string         { return c.entry("momo_balance") }

func (c *CoreContract) CreateResourceAccount(userAccountHash string) Payload {
	return Payload{
		Function: c.entry("create_resource_account"),
		Args:     []string{userAccountHash},
	}
}

func (c *CoreContract) CreateResourceAccountAndMintToken(userAccountHash, uniID, amount string) (Payload, error) {
	raw, err := c.ToBaseUnits(amount)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Function: c.entry("create_resource_account_and_mint_token"),
		Args:     []string{userAccountHash, uniID, raw},
	}, nil
}

func (c *CoreContract) MintToken(receipt, uniID, amount string) (Payload, error) {
	raw, err := c.ToBaseUnits(amount)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Function: c.entry("mint_token"),
		Args:     []string{receipt, uniID, raw},
	}, nil
}

// BatchMintToken mints the same amount to every receipt in one call. The
// relay drains mints one command at a time; this covers the contract's bulk
// entry point used for administrative grant campaigns.
func (c *CoreContract) BatchMintToken(receipts []string, amount string) (Payload, error) {
	raw, err := c.ToBaseUnits(amount)
	if err != nil {
		return Payload{}, err
	}
	args := make([]string, 0, len(receipts)+1)
	args = append(args, receipts...)
	args = append(args, raw)
	return Payload{
		Function: c.entry("batch_mint_token"),
		Args:     args,
	}, nil
}

func (c *CoreContract) TransferToken(from, to, uniID, amount string) (Payload, error) {
	raw, err := c.ToBaseUnits(amount)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Function: c.entry("transfer_token"),
		Args:     []string{from, to, uniID, raw},
	}, nil
}

func (c *CoreContract) ReferralBonus(inviter, uniID, amount string) (Payload, error) {
	raw, err := c.ToBaseUnits(amount)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Function: c.entry("referral_bonus"),
		Args:     []string{inviter, uniID, raw},
	}, nil
}

func (c *CoreContract) TaskBonus(receipt, uniID, amount string) (Payload, error) {
	raw, err := c.ToBaseUnits(amount)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Function: c.entry("task_bonus"),
		Args:     []string{receipt, uniID, raw},
	}, nil
}

// ToBaseUnits converts a human-readable decimal amount string into the
// chain's integer representation (amount × 10^decimals). The conversion must
// be exact: an amount with more fractional digits than the contract carries
// is rejected rather than rounded.
func (c *CoreContract) ToBaseUnits(amount string) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("amount %q is negative", amount)
	}
	shifted := d.Shift(c.decimals)
	if !shifted.IsInteger() {
		return "", fmt.Errorf("amount %q has more than %d decimal places", amount, c.decimals)
	}
	return shifted.String(), nil
}

// FromBaseUnits is the inverse conversion, used for view-balance reads.
func (c *CoreContract) FromBaseUnits(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse base amount %q: %w", raw, err)
	}
	return d.Shift(-c.decimals), nil
}
