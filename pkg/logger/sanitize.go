package logger

import "strings"

// SanitizedIdentifier masks an account identifier for logging. Emails keep
// the first character and the TLD ("u***@****.com"); anything else keeps
// the first character only.
func SanitizedIdentifier(identifier string) string {
	at := strings.LastIndex(identifier, "@")
	if at <= 0 || at == len(identifier)-1 {
		if len(identifier) <= 1 {
			return "*"
		}
		return string(identifier[0]) + strings.Repeat("*", len(identifier)-1)
	}

	local := identifier[:at]
	domain := identifier[at+1:]

	masked := string(local[0])
	if len(local) > 1 {
		masked += strings.Repeat("*", len(local)-1)
	}

	domainParts := strings.Split(domain, ".")
	for i := 0; i < len(domainParts)-1; i++ {
		domainParts[i] = strings.Repeat("*", len(domainParts[i]))
	}

	return masked + "@" + strings.Join(domainParts, ".")
}

// SanitizeQueryString reports whether a query string carries sensitive
// parameters and should be redacted wholesale from request logs.
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"identifier",
		"email",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
