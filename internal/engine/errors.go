package engine

import (
	"errors"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletFrozen   = errors.New("wallet is frozen")
)
