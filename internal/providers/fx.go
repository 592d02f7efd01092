package providers

import (
	"github.com/smallbiznis/appointly/internal/providers/email"
	"github.com/smallbiznis/appointly/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module provides the outbound delivery adapters: SMTP email and PDF rendering.
var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
