package ownership

import "strings"

// MaxAppIDLength bounds normalized application ids.
const MaxAppIDLength = 64

// NormalizeAppID canonicalizes an application id: lower-case, trimmed, with
// every run of characters outside [a-z0-9._] collapsed to a single '-' and
// no leading or trailing '-'.
func NormalizeAppID(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))

	var b strings.Builder
	b.Grow(len(raw))
	pendingDash := false
	for _, r := range raw {
		if isAppIDRune(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	appID := b.String()
	if appID == "" || len(appID) > MaxAppIDLength {
		return "", ErrInvalidAppID
	}
	return appID, nil
}

func isAppIDRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.'
}
