package service

import (
	"context"
	"encoding/json"
	"fmt"

	"vendpay/internal/domain"
	"vendpay/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uint) error
}

type Pusher interface {
	SendToUser(ctx context.Context, fcmToken string, notifType, title, body string, data map[string]interface{}) error
}

// NotificationService stores a notification row and then pushes it to the user's device.
// A failed push never fails the notification.
type NotificationService struct {
	repo  NotificationStore
	users UserStore
	push  Pusher
	log   *zap.Logger
}

func NewNotificationService(repo NotificationStore, users UserStore, push Pusher, log *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, users: users, push: push, log: log}
}

func (s *NotificationService) Notify(ctx context.Context, userID uint, notifType, title, body string, data map[string]interface{}) error {
	var raw datatypes.JSON
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}
	err := s.repo.Create(ctx, &models.Notification{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
		Data:   raw,
	})
	if err != nil {
		return err
	}
	s.sendPush(ctx, userID, notifType, title, body, data)
	return nil
}

func (s *NotificationService) sendPush(ctx context.Context, userID uint, notifType, title, body string, data map[string]interface{}) {
	if s.push == nil || s.users == nil {
		return
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil || u == nil || u.FCMToken == "" {
		return
	}
	if err := s.push.SendToUser(ctx, u.FCMToken, notifType, title, body, data); err != nil {
		s.log.Warn("push failed", zap.Uint("user_id", userID), zap.String("type", notifType), zap.Error(err))
	}
}

func (s *NotificationService) List(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListByUserID(ctx, userID, limit, offset)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID uint) error {
	return s.repo.MarkRead(ctx, id, userID)
}

func (s *NotificationService) NotifyPaymentSuccess(ctx context.Context, p *models.Payment, machineName string) error {
	body := fmt.Sprintf("Your payment of %s %s via %s at %s was successful.",
		p.Amount.StringFixed(3), p.Currency, p.PaymentMethod, machineName)
	if p.EarnedPoints != nil && *p.EarnedPoints > 0 {
		body += fmt.Sprintf(" You earned %d points.", *p.EarnedPoints)
	}
	return s.Notify(ctx, p.UserID, domain.NotifPaymentSuccess, "Payment Successful", body, map[string]interface{}{
		"payment_id":     p.ID,
		"transaction_id": p.TransactionID,
		"amount":         p.Amount.StringFixed(3),
		"payment_method": p.PaymentMethod,
	})
}

func (s *NotificationService) NotifyWalletTopUp(ctx context.Context, p *models.Payment, balance string) error {
	body := fmt.Sprintf("Your wallet was topped up with %s %s. New balance: %s %s.",
		p.Amount.StringFixed(3), p.Currency, balance, p.Currency)
	return s.Notify(ctx, p.UserID, domain.NotifWalletTopUp, "Wallet Top-up", body, map[string]interface{}{
		"payment_id": p.ID,
		"amount":     p.Amount.StringFixed(3),
		"balance":    balance,
	})
}

// NotifyPaymentRefund tells the user part of their order did not come out and a refund
// for the charge is pending.
func (s *NotificationService) NotifyPaymentRefund(ctx context.Context, p *models.Payment, machineName string, ordered, dispensed int) error {
	ref := p.TransactionID
	if p.ChargeID != nil && *p.ChargeID != "" {
		ref = *p.ChargeID
	}
	body := fmt.Sprintf("Only %d of %d items were dispensed at %s. A refund for payment %s is being processed.",
		dispensed, ordered, machineName, ref)
	return s.Notify(ctx, p.UserID, domain.NotifPaymentRefund, "Payment Refund", body, map[string]interface{}{
		"payment_id": p.ID,
		"charge_id":  ref,
		"ordered":    ordered,
		"dispensed":  dispensed,
	})
}

func (s *NotificationService) NotifyDispenseComplete(ctx context.Context, p *models.Payment, machineName string, dispensed int) error {
	body := fmt.Sprintf("All %d items were dispensed at %s. Enjoy!", dispensed, machineName)
	return s.Notify(ctx, p.UserID, domain.NotifDispenseComplete, "Order Complete", body, map[string]interface{}{
		"payment_id": p.ID,
		"dispensed":  dispensed,
	})
}

func (s *NotificationService) NotifyReferralBonus(ctx context.Context, userID uint, points int64) error {
	body := fmt.Sprintf("You received %d bonus points for a referral.", points)
	return s.Notify(ctx, userID, domain.NotifReferralBonus, "Referral Bonus", body, map[string]interface{}{
		"points": points,
	})
}
