package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// xmlEscape escapes text for embedding in call-control markup.
func xmlEscape(s string) string {
	var sb strings.Builder
	if err := xml.EscapeText(&sb, []byte(s)); err != nil {
		return ""
	}
	return sb.String()
}

// TwimlSay renders a TwiML document that speaks text and then keeps the call
// open so further commands can be issued.
func TwimlSay(voice, text string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Say voice="%s">%s</Say><Pause length="120"/></Response>`,
		xmlEscape(voice), xmlEscape(text),
	)
}

// twimlGather renders a TwiML document that captures callee speech and posts
// the result to the webhook.
func twimlGather(actionURL string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Gather input="speech" action="%s" method="POST" speechTimeout="auto" timeout="30"/><Pause length="120"/></Response>`,
		xmlEscape(actionURL),
	)
}

// TwimlHold renders a TwiML document that keeps the call open silently.
func TwimlHold() string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Pause length="120"/></Response>`
}

// PlivoSpeak renders Plivo answer XML that speaks text and keeps the call open.
func PlivoSpeak(voice, text string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Speak voice="%s">%s</Speak><Wait length="120"/></Response>`,
		xmlEscape(voice), xmlEscape(text),
	)
}

// PlivoWait renders Plivo answer XML that keeps the call open silently.
func PlivoWait() string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Wait length="120"/></Response>`
}
