package handler

import (
	"context"
	"net/http"
	"testing"

	"vendpay/internal/domain"
	"vendpay/internal/models"
	"vendpay/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	filter     repository.PaymentFilter
	page, size int
}

func (f *fakeAdmin) GetDashboardStats(ctx context.Context) (*repository.DashboardStats, error) {
	return &repository.DashboardStats{TotalPayments: 4, SettledRevenue: decimal.RequireFromString("3.75")}, nil
}

func (f *fakeAdmin) ListPayments(ctx context.Context, filter repository.PaymentFilter, page, limit int) ([]models.Payment, int64, error) {
	f.filter, f.page, f.size = filter, page, limit
	return []models.Payment{{ID: 1}}, 1, nil
}

func (f *fakeAdmin) ListTransactions(ctx context.Context, txType string, page, limit int) ([]models.WalletTransaction, int64, error) {
	return nil, 0, nil
}

func (f *fakeAdmin) ListReferrals(ctx context.Context, page, limit int) ([]models.Referral, int64, error) {
	return nil, 0, nil
}

func (f *fakeAdmin) ListAuditLogs(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	return []models.AuditLog{{Resource: resource, ResourceID: resourceID}}, nil
}

func (f *fakeAdmin) RevenueByDay(ctx context.Context, days int) ([]repository.RevenuePoint, error) {
	return []repository.RevenuePoint{{Date: "2026-10-18", Count: int64(days)}}, nil
}

type memSettings map[string]string

func (m memSettings) GetAll(ctx context.Context) ([]models.SystemSetting, error) {
	var out []models.SystemSetting
	for k, v := range m {
		out = append(out, models.SystemSetting{Key: k, Value: v})
	}
	return out, nil
}

func (m memSettings) Set(ctx context.Context, key, value string) error {
	m[key] = value
	return nil
}

func adminRouter(admin AdminStore, settings SettingsStore) *gin.Engine {
	h := NewAdminHandler(admin, settings)
	r := gin.New()
	r.GET("/admin/dashboard", h.Dashboard)
	r.GET("/admin/payments", h.ListPayments)
	r.GET("/admin/payments/:id/audit", h.PaymentAudit)
	r.GET("/admin/settings", h.GetSettings)
	r.PUT("/admin/settings", h.UpdateSettings)
	r.GET("/admin/analytics", h.Analytics)
	return r
}

func TestAdminDashboardAndPayments(t *testing.T) {
	admin := &fakeAdmin{}
	r := adminRouter(admin, memSettings{})

	w := do(r, http.MethodGet, "/admin/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3.75", decode(t, w)["settled_revenue"])

	w = do(r, http.MethodGet, "/admin/payments?refund_status=PENDING&page=2&limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, repository.PaymentFilter{RefundStatus: "PENDING"}, admin.filter)
	assert.Equal(t, 2, admin.page)
	assert.Equal(t, 20, admin.size)

	w = do(r, http.MethodGet, "/admin/payments/9/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"resource_id":"9"`)

	w = do(r, http.MethodGet, "/admin/analytics?days=1000", nil)
	assert.Equal(t, float64(30), decode(t, w)["days"])
}

func TestAdminUpdateSettings(t *testing.T) {
	settings := memSettings{}
	r := adminRouter(&fakeAdmin{}, settings)

	w := do(r, http.MethodPut, "/admin/settings", `{"settings":{"referral_inviter_points":"750","referral_invited_points":"0"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "750", settings[domain.SettingReferralInviterPoints])
	assert.Equal(t, "0", settings[domain.SettingReferralInvitedPoints])

	for _, body := range []string{
		`{"settings":{"referral_inviter_points":"-1"}}`,
		`{"settings":{"referral_inviter_points":"lots"}}`,
		`{"settings":{"referral_inviter_points":"900","maintenance":"on"}}`,
	} {
		w = do(r, http.MethodPut, "/admin/settings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, "750", settings[domain.SettingReferralInviterPoints], "rejected batch writes nothing")
}
