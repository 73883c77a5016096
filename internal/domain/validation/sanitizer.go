package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

// Size limits for sanitization.
const (
	// MaxTextLength caps payload text in bytes. Generated text longer than
	// this is truncated before validation.
	MaxTextLength = 65536

	// MaxTargetIDLength is the maximum length of a target resource id.
	MaxTargetIDLength = 128
)

// ErrInvalidTargetID is returned for resource ids that are unsafe to put in a
// request path.
var ErrInvalidTargetID = errors.New("invalid target id")

// targetIDPattern allows the id shapes the platform issues (uuids, numeric
// ids, slugs).
var targetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateTargetID checks an id before it is interpolated into a URL path.
// An empty id is valid (kind-wide actions carry none).
func ValidateTargetID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxTargetIDLength {
		return errors.Join(ErrInvalidTargetID, errors.New("too long"))
	}
	if strings.Contains(id, "..") || !targetIDPattern.MatchString(id) {
		return ErrInvalidTargetID
	}
	return nil
}

// SanitizePayload removes null bytes and invalid UTF-8 from the payload text
// and title, trims surrounding whitespace and truncates oversized text on a
// rune boundary. Metadata is left as is.
func SanitizePayload(p action.Payload) action.Payload {
	p.Title = sanitizeString(p.Title)
	p.Text = sanitizeString(p.Text)
	return p
}

func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.TrimSpace(s)

	if len(s) > MaxTextLength {
		cut := MaxTextLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
