package allocation

import "errors"

var (
	ErrInvalidSku             = errors.New("allocation: invalid sku")
	ErrNotFound               = errors.New("allocation: not found")
	ErrInvalidQuantity        = errors.New("allocation: invalid quantity")
	ErrInvalidArgument        = errors.New("allocation: invalid argument")
	ErrDuplicateBatch         = errors.New("allocation: batch already exists")
	ErrConcurrentModification = errors.New("allocation: concurrent modification")
)
