package domain

import "errors"

var (
	ErrProductNotFound = errors.New("product_not_found")
	ErrDocNotFound     = errors.New("doc_not_found")
	ErrItemInactive    = errors.New("item_inactive")
)
