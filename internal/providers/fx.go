package providers

import (
	"github.com/shortyai/creditdesk/internal/providers/email"
	"github.com/shortyai/creditdesk/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
