// Package model defines the records decoded from exchange channels.
//
// Conventions:
//   - Timestamps (MTS fields): int64 milliseconds since Unix epoch, as sent
//   - Amounts: positive = bid/buy, negative = ask/sell
//   - Symbols: "t" prefix for trading pairs (tBTCUSD), "f" for funding currencies (fUSD)
package model
