package chaindata

import "errors"

// ErrNotAToken is returned when an address lacks the minimum ERC-20 read
// methods (symbol, decimals, balanceOf) or is not a contract at all.
var ErrNotAToken = errors.New("address is not a token contract")
