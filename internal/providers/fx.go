package providers

import (
	"github.com/smallbiznis/tumblebus/internal/providers/email"
	"github.com/smallbiznis/tumblebus/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
