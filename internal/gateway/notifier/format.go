package notifier

import (
	"fmt"
	"strings"
)

// EntryMessage renders the push sent when a paired entry was placed.
func EntryMessage(instrument, direction string, marketPrice, pendingPrice, stop, target, size float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Entry placed* %s %s\n", instrument, strings.ToUpper(direction))
	fmt.Fprintf(&b, "market @ %.5f / pending @ %.5f\n", marketPrice, pendingPrice)
	fmt.Fprintf(&b, "size %.2f  sl %.5f  tp %.5f", size, stop, target)
	return b.String()
}

// ExitMessage renders a leg close triggered by a follow-up decision.
func ExitMessage(instrument string, identifier uint32, reason string) string {
	return fmt.Sprintf("*Leg closed* %s tag=%d\n%s", instrument, identifier, reason)
}

// AnomalyMessage renders a skip or anomaly worth human attention.
func AnomalyMessage(instrument, reason, detail string) string {
	return fmt.Sprintf("*Anomaly* %s\n%s: %s", instrument, reason, detail)
}
