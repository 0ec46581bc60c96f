package normalize

import (
	"strings"

	"github.com/example/ride-dispatch/internal/models"
)

// emailKeys is the identity-field priority for email-bearing objects.
var emailKeys = []string{
	"email", "primaryEmail", "loginEmail", "userEmail", "contactEmail", "uid", "id",
}

// Email normalizes any identity-ish value to a trimmed, lowercased email.
// Maps are resolved through the emailKeys priority, recursively, so nested
// shapes like {profile:{email:...}} still collapse.
func Email(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case models.UserAccess:
		return Email(t.Email)
	case *models.UserAccess:
		if t == nil {
			return ""
		}
		return Email(t.Email)
	case map[string]any:
		for _, key := range emailKeys {
			if candidate, ok := t[key]; ok && candidate != nil {
				if email := Email(candidate); email != "" {
					return email
				}
			}
		}
		return ""
	default:
		return strings.ToLower(strings.TrimSpace(Text(v)))
	}
}

// UserEmail resolves the caller's email from a user record: direct
// email-like fields first, then the nested claims/profile objects.
func UserEmail(user any) string {
	switch t := user.(type) {
	case map[string]any:
		for _, key := range []string{"email", "primaryEmail", "loginEmail", "userEmail", "contactEmail"} {
			if s, ok := t[key].(string); ok {
				if email := Email(s); email != "" {
					return email
				}
			}
		}
		for _, key := range []string{"claims", "profile"} {
			if nested, ok := t[key].(map[string]any); ok {
				if s, ok := nested["email"].(string); ok {
					if email := Email(s); email != "" {
						return email
					}
				}
			}
		}
		return ""
	default:
		return Email(user)
	}
}

// nameKeys is the human-name priority for user records.
var nameKeys = []string{
	"displayName", "name", "fullName", "full_name", "driverName", "preferredName",
}

// UserName resolves a display name from a user record, falling back to the
// given email when nothing presentable exists.
func UserName(user any, fallbackEmail string) string {
	fallback := fallbackEmail
	if fallback == "" {
		fallback = "Unknown"
	}
	switch t := user.(type) {
	case models.UserAccess:
		if name := strings.TrimSpace(t.Name); name != "" {
			return name
		}
		return fallback
	case *models.UserAccess:
		if t == nil {
			return fallback
		}
		return UserName(*t, fallbackEmail)
	case map[string]any:
		for _, key := range nameKeys {
			if s, ok := t[key].(string); ok {
				if name := strings.TrimSpace(s); name != "" {
					return name
				}
			}
		}
		for _, key := range []string{"claims", "profile"} {
			if nested, ok := t[key].(map[string]any); ok {
				if s, ok := nested["name"].(string); ok {
					if name := strings.TrimSpace(s); name != "" {
						return name
					}
				}
			}
		}
		return fallback
	default:
		return fallback
	}
}
