package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"vendpay/config"
	"vendpay/internal/domain"
	"vendpay/internal/metrics"
	"vendpay/internal/models"

	"go.uber.org/zap"
)

type ReferralStore interface {
	GetOrCreateCode(ctx context.Context, userID uint) (*models.ReferralCode, error)
	GetByCode(ctx context.Context, code string) (*models.ReferralCode, error)
	GetByReferredUserID(ctx context.Context, userID uint) (*models.Referral, error)
	CreateReferral(ctx context.Context, referral *models.Referral) error
	ListByReferrerID(ctx context.Context, referrerID uint, limit, offset int) ([]models.Referral, error)
}

type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
}

type ReferralNotifier interface {
	NotifyReferralBonus(ctx context.Context, userID uint, points int64) error
}

// ReferralService links a new user to their inviter and credits both with bonus points.
type ReferralService struct {
	referrals ReferralStore
	settings  SettingStore
	loyalty   LoyaltyLedger
	notifier  ReferralNotifier
	cfg       config.LoyaltyConfig
	log       *zap.Logger
}

func NewReferralService(referrals ReferralStore, settings SettingStore, ledger LoyaltyLedger, notifier ReferralNotifier, cfg config.LoyaltyConfig, log *zap.Logger) *ReferralService {
	return &ReferralService{
		referrals: referrals,
		settings:  settings,
		loyalty:   ledger,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
	}
}

func (s *ReferralService) MyCode(ctx context.Context, userID uint) (*models.ReferralCode, error) {
	return s.referrals.GetOrCreateCode(ctx, userID)
}

func (s *ReferralService) ListReferrals(ctx context.Context, userID uint, limit, offset int) ([]models.Referral, error) {
	return s.referrals.ListByReferrerID(ctx, userID, limit, offset)
}

// ProcessReferralCode records that newUserID was invited with code and awards both sides.
// A user can be referred once and cannot refer themselves.
func (s *ReferralService) ProcessReferralCode(ctx context.Context, code string, newUserID uint) (*models.Referral, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", domain.ErrInvalidRequest)
	}
	rc, err := s.referrals.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, fmt.Errorf("%w: unknown referral code", domain.ErrInvalidRequest)
	}
	if rc.UserID == newUserID {
		return nil, fmt.Errorf("%w: cannot use your own referral code", domain.ErrInvalidRequest)
	}
	existing, err := s.referrals.GetByReferredUserID(ctx, newUserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: already referred", domain.ErrInvalidRequest)
	}

	inviterPoints := s.settingPoints(ctx, domain.SettingReferralInviterPoints, s.cfg.ReferralInviterPoints)
	invitedPoints := s.settingPoints(ctx, domain.SettingReferralInvitedPoints, s.cfg.ReferralInvitedPoints)

	ref := &models.Referral{
		ReferrerID:     rc.UserID,
		ReferredUserID: newUserID,
		InviterPoints:  inviterPoints,
		InvitedPoints:  invitedPoints,
	}
	if err := s.referrals.CreateReferral(ctx, ref); err != nil {
		return nil, err
	}

	s.award(ctx, rc.UserID, inviterPoints, domain.LoyaltyReasonReferralInviter, newUserID)
	s.award(ctx, newUserID, invitedPoints, domain.LoyaltyReasonReferralInvited, rc.UserID)
	return ref, nil
}

func (s *ReferralService) award(ctx context.Context, userID uint, points int64, reason string, otherUserID uint) {
	if points <= 0 {
		return
	}
	_, err := s.loyalty.Append(ctx, &models.LoyaltyEntry{
		UserID:   userID,
		Points:   points,
		Type:     domain.LoyaltyTypeCredit,
		Reason:   reason,
		Metadata: jsonMeta(map[string]interface{}{"other_user_id": otherUserID}),
	})
	if err != nil {
		s.log.Error("referral points not credited",
			zap.Uint("user_id", userID), zap.String("reason", reason), zap.Error(err))
		metrics.RecordCompensationPending(reason)
		return
	}
	metrics.RecordPoints(reason, points)
	if s.notifier != nil {
		if err := s.notifier.NotifyReferralBonus(ctx, userID, points); err != nil {
			s.log.Warn("referral notification failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
}

func (s *ReferralService) settingPoints(ctx context.Context, key string, fallback int64) int64 {
	if s.settings == nil {
		return fallback
	}
	val, err := s.settings.Get(ctx, key)
	if err != nil || val == "" {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
