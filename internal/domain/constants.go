package domain

// Payment methods as stored on payments.payment_method.
const (
	MethodWallet  = "WALLET"
	MethodCard    = "CARD"
	MethodGPay    = "GPay"
	MethodLoyalty = "LOYALTY"
)

// Payment statuses. The gateway may report others; status is a free-form column.
const (
	StatusPaid       = "PAID"
	StatusCaptured   = "CAPTURED"
	StatusAuthorized = "AUTHORIZED"
	StatusCredit     = "CREDIT"
	StatusDebit      = "DEBIT"
	StatusRefunded   = "REFUNDED"
	StatusFailed     = "FAILED"
)

const (
	RefundStatusPending = "PENDING"
)

const (
	LoyaltyTypeCredit = "Credit"
	LoyaltyTypeDebit  = "Debit"
)

const (
	LoyaltyReasonPurchase        = "purchase"
	LoyaltyReasonRedeem          = "redeem"
	LoyaltyReasonReferralInviter = "referral_inviter"
	LoyaltyReasonReferralInvited = "referral_invited"
)

const (
	WalletTxCredit = "credit"
	WalletTxDebit  = "debit"
)

const (
	NotifPaymentSuccess   = "PAYMENT_SUCCESS"
	NotifWalletTopUp      = "WALLET_TOPUP"
	NotifPaymentRefund    = "PAYMENT_REFUND"
	NotifDispenseComplete = "DISPENSE_COMPLETE"
	NotifReferralBonus    = "REFERRAL_BONUS"
)

// DefaultMachineName is used whenever a machine id is missing or unknown.
const DefaultMachineName = "the vending machine"

// Setting keys (system_settings) that override config defaults at runtime.
const (
	SettingReferralInviterPoints = "referral_inviter_points"
	SettingReferralInvitedPoints = "referral_invited_points"
)
