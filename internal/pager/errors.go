package pager

import "errors"

var (
	ErrTxNotWritable = errors.New("transaction is read-only")
	ErrTxDone        = errors.New("transaction has been committed or rolled back")
	ErrReservedPage  = errors.New("page is reserved")
	ErrInvalidHandle = errors.New("page handle out of range")
	ErrPageMismatch  = errors.New("page header does not match its handle")
	ErrNeedsRecovery = errors.New("a commit failed, reopen the database to recover")
)
