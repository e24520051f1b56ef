package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbd888/securebank/internal/money"
)

const deviceInstructions = `You are a fraud analyst for a mobile bank. Assess the risk that the device
below is being used by someone other than the account holder (emulators,
rooted or tampered builds, mismatched attributes, unusual activity).`

const transferInstructions = `You are a fraud analyst for a mobile bank. Assess the risk that the transfer
below is fraudulent, given the device it comes from and the account's recent
transfer history.`

const replyFormat = `Reply with exactly these three lines and nothing else:
RISK_SCORE: <number between 0 and 1>
REASON: <one sentence>
ALERTS: <comma-separated short alerts, or none>`

// BuildPrompt renders rc as the text sent to the scorer. Output is
// deterministic for a given rc.
func BuildPrompt(rc Context) string {
	var b strings.Builder

	if rc.Purpose == PurposeTransfer {
		b.WriteString(transferInstructions)
	} else {
		b.WriteString(deviceInstructions)
	}
	b.WriteString("\n\n")

	if rc.Transfer != nil {
		b.WriteString("TRANSFER\n")
		fmt.Fprintf(&b, "  sender: %s\n", rc.AccountID)
		fmt.Fprintf(&b, "  recipient: %s\n", rc.Transfer.Recipient)
		fmt.Fprintf(&b, "  amount: %s\n", money.Format(rc.Transfer.Amount))
		if rc.Transfer.Note != "" {
			fmt.Fprintf(&b, "  purpose: %q\n", rc.Transfer.Note)
		}
		b.WriteString("\n")
	}

	b.WriteString("DEVICE\n")
	if len(rc.Device) == 0 {
		b.WriteString("  (no attributes supplied)\n")
	}
	keys := make([]string, 0, len(rc.Device))
	for k := range rc.Device {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, rc.Device[k])
	}
	b.WriteString("\n")

	history := rc.History
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	fmt.Fprintf(&b, "RECENT TRANSFERS (newest first, %d shown)\n", len(history))
	if len(history) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, h := range history {
		fmt.Fprintf(&b, "  %s  %s  to %s  [%s]\n",
			h.CreatedAt.UTC().Format("2006-01-02T15:04Z"), money.Format(h.Amount), h.Recipient, h.Status)
	}
	b.WriteString("\n")
	b.WriteString(replyFormat)
	return b.String()
}
