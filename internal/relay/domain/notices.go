package domain

import (
	"fmt"
	"time"
)

const parseModeHTML = "HTML"

const (
	verifyButtonLabel    = "⚡️ Verify Now"
	sessionExpiredText   = "⚠️ Session expired."
	verifiedCallbackText = "✅ Verified!"
	verifiedEditText     = "✅ Verified. Session valid for 1 hour."
)

// formatUnbanTime renders an epoch timestamp as "2006-01-02 15:04:05 UTC".
func formatUnbanTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// formatDeadlineClock renders the challenge deadline as a UTC wall clock.
func formatDeadlineClock(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("15:04:05")
}

func banNoticeText(unbanAt int64) string {
	return fmt.Sprintf("⛔️ Banned until:\n<b>%s</b>", formatUnbanTime(unbanAt))
}

func timeoutNoticeText(unbanAt int64) string {
	return fmt.Sprintf("⛔️ Timeout. Banned until:\n<b>%s</b>", formatUnbanTime(unbanAt))
}

func callbackBanText(unbanAt int64) string {
	return fmt.Sprintf("⛔️ Banned until: %s", formatUnbanTime(unbanAt))
}

func callbackTimeoutText(unbanAt int64) string {
	return fmt.Sprintf("❌ Timeout! Banned until %s", formatUnbanTime(unbanAt))
}

func challengeText(deadline int64) string {
	return fmt.Sprintf(
		"🛡 <b>Verification</b>\n\nVerify in <b>30s</b>.\nDeadline: <b>%s (UTC)</b>\nTimeout = Ban 24h.",
		formatDeadlineClock(deadline),
	)
}
