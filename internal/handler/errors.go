package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"vendpay/internal/domain"

	"github.com/gin-gonic/gin"
)

// statusFor maps a settlement error to the HTTP status the apps expect.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindUserNotFound, domain.KindPaymentNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientPoints, domain.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case domain.KindGatewayChargeFailed:
		return http.StatusPaymentRequired
	case domain.KindNoDispenseData, domain.KindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ..., "code": ...}. Datastore and unknown failures are not
// echoed to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := domain.KindOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
		_ = c.Error(err)
	} else if root := rootMessage(err); root != "" {
		msg = root
	}
	c.JSON(status, gin.H{"error": msg, "code": kind.String()})
}

// rootMessage drops the repository operation prefix so clients see "insufficient wallet
// balance" rather than the whole chain.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrInsufficientBalance,
		domain.ErrUserNotFound,
		domain.ErrPaymentNotFound,
		domain.ErrNoDispenseData,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return strings.TrimSpace(err.Error())
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
