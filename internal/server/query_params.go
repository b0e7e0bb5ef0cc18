package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
)

func parsePaymentID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, paymentdomain.ErrInvalidID
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return 0, paymentdomain.ErrInvalidID
	}
	return parsed, nil
}
