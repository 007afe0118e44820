package silence

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-island/core/silence"

var logger = otelslog.NewLogger(scopeName)
