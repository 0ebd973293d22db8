package speed

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-voice/core/speed"

var logger = otelslog.NewLogger(scopeName)
