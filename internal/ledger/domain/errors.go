package domain

import "errors"

var (
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrEntryNotFound    = errors.New("entry_not_found")
	ErrDocumentNotFound = errors.New("payment_document_not_found")

	ErrInvalidOwnerType    = errors.New("invalid_owner_type")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInvalidValue        = errors.New("invalid_value")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidBusinessDate = errors.New("invalid_business_date")
	ErrInvalidCreatedBy    = errors.New("invalid_created_by")
	ErrSameAccount         = errors.New("transfer_same_account")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
