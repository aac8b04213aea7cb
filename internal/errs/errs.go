package errs

import "errors"

var ErrOrderNotFound = errors.New("order not found")
var ErrShopNotFound = errors.New("shop not found")
var ErrTrackingNotFound = errors.New("tracking not found")
var ErrWithdrawalNotFound = errors.New("withdrawal not found")
var ErrWithdrawalNotPending = errors.New("withdrawal already processed")
var ErrAlreadyPaid = errors.New("order already paid")
var ErrAlreadySubmitted = errors.New("order already submitted for fulfillment")
var ErrOrderNotFulfillable = errors.New("order not in a fulfillable state")
var ErrNoActiveProvider = errors.New("no active provider configured")
var ErrRateLimited = errors.New("provider rate limit hit")
var ErrInvalidToken = errors.New("invalid token")
var ErrDuplicateEntry = errors.New("entry already exists")
