package alerting

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/adengine/pkg/fatigue"
	"github.com/codeready-toolchain/adengine/pkg/models"
)

func section(text string) goslack.Block {
	return goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// buildDeadChangeMessage renders a PendingAdChange that exhausted its
// retries and reached the dead terminal state.
func buildDeadChangeMessage(change *models.PendingAdChange, reason string) []goslack.Block {
	text := fmt.Sprintf(
		":x: *Change went dead*\n*Ad:* `%s`\n*Account:* `%s`\n*Type:* `%s`\n*Attempts:* %d\n*Reason:* %s",
		change.AdID, change.AccountID, change.ChangeType, change.Attempts, reason,
	)
	return []goslack.Block{section(text)}
}

// buildFatigueSeverityMessage renders a severity-2+ fatigue evaluation,
// the point at which the detector pauses the ad and requests a creative
// replacement rather than just trimming budget.
func buildFatigueSeverityMessage(c fatigue.Candidate, severity int, reason string) []goslack.Block {
	text := fmt.Sprintf(
		":warning: *Ad fatigue detected (severity %d)*\n*Ad:* `%s`\n*Account:* `%s`\n*Reason:* %s",
		severity, c.AdID, c.AccountID, reason,
	)
	return []goslack.Block{section(text)}
}
