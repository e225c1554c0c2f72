package models

import "time"

// Verdict is the safety classification returned by the token validator.
type Verdict string

const (
	VerdictGood    Verdict = "GOOD"
	VerdictBad     Verdict = "BAD"
	VerdictUnknown Verdict = "UNKNOWN"
)

// Token identifies a contract on a chain together with its most recent
// safety verdict. Owned by the validator's cache; positions reference the
// chain and contract address, never a copy of the verdict.
type Token struct {
	Chain           string
	ContractAddress string
	Verdict         Verdict
	FetchedAt       time.Time
}
