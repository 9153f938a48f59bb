package domain

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientPoints  = errors.New("insufficient loyalty points")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrGatewayChargeFailed = errors.New("gateway charge failed")
	ErrNoDispenseData      = errors.New("no dispense data")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPersistence         = errors.New("persistence failure")
	ErrInvalidRequest      = errors.New("invalid request")
)

// ErrorKind classifies a settlement error for transport mapping.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindUserNotFound
	KindInsufficientPoints
	KindInsufficientBalance
	KindGatewayChargeFailed
	KindNoDispenseData
	KindPaymentNotFound
	KindPersistence
	KindInvalidRequest
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUserNotFound, KindUserNotFound},
	{ErrInsufficientPoints, KindInsufficientPoints},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrGatewayChargeFailed, KindGatewayChargeFailed},
	{ErrNoDispenseData, KindNoDispenseData},
	{ErrPaymentNotFound, KindPaymentNotFound},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrPersistence, KindPersistence},
}

// KindOf returns the kind of the first taxonomy error found in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

func (k ErrorKind) String() string {
	switch k {
	case KindUserNotFound:
		return "UserNotFound"
	case KindInsufficientPoints:
		return "InsufficientPoints"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindGatewayChargeFailed:
		return "GatewayChargeFailed"
	case KindNoDispenseData:
		return "NoDispenseData"
	case KindPaymentNotFound:
		return "PaymentNotFound"
	case KindPersistence:
		return "PersistenceFailure"
	case KindInvalidRequest:
		return "InvalidRequest"
	}
	return "Unknown"
}
