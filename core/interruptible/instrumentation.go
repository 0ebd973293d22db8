package interruptible

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-voice/core/interruptible"

var logger = otelslog.NewLogger(scopeName)
