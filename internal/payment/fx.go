package payment

import (
	"github.com/shortyai/creditdesk/internal/payment/repository"
	"github.com/shortyai/creditdesk/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
