package pricing

import "errors"

var (
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrRuleNotFound      = errors.New("no pricing rule set in effect")
	ErrInvalidRuleSet    = errors.New("invalid rule set")
	ErrVersionConflict   = errors.New("rule set version already published")
	ErrInvalidTransition = errors.New("invalid reconciliation transition")
)
