package usecase

import "errors"

// ErrInvalidSymbol は銘柄コードが不正な場合のエラーです。
var ErrInvalidSymbol = errors.New("invalid symbol")
