package validation

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Sentinel-Gate/inkgate/internal/domain/action"
)

func TestValidateTargetID(t *testing.T) {
	t.Parallel()

	valid := []string{
		"",
		"42",
		"b-1",
		"0f8e7d6c-1a2b-4c3d-9e8f-7a6b5c4d3e2f",
		"story_7.v2",
	}
	for _, id := range valid {
		if err := ValidateTargetID(id); err != nil {
			t.Errorf("ValidateTargetID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"../admin",
		"a/b",
		"a..b",
		"-leading",
		"with space",
		"q?x=1",
		strings.Repeat("a", MaxTargetIDLength+1),
	}
	for _, id := range invalid {
		if err := ValidateTargetID(id); !errors.Is(err, ErrInvalidTargetID) {
			t.Errorf("ValidateTargetID(%q) = %v, want ErrInvalidTargetID", id, err)
		}
	}
}

func TestSanitizePayload_NullBytesAndWhitespace(t *testing.T) {
	t.Parallel()

	p := SanitizePayload(action.Payload{
		Title:    "  The Bridge\x00 ",
		Text:     "\nShe crossed.\x00\x00\n",
		Metadata: map[string]string{"story": "s-1\x00"},
	})

	if p.Title != "The Bridge" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Text != "She crossed." {
		t.Errorf("Text = %q", p.Text)
	}
	if p.Metadata["story"] != "s-1\x00" {
		t.Error("Metadata should be left untouched")
	}
}

func TestSanitizePayload_InvalidUTF8(t *testing.T) {
	t.Parallel()

	p := SanitizePayload(action.Payload{Text: "ok\xff\xfeok"})
	if p.Text != "okok" {
		t.Errorf("Text = %q, want %q", p.Text, "okok")
	}
}

func TestSanitizePayload_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// 3-byte runes so MaxTextLength does not fall on a boundary.
	long := strings.Repeat("雨", MaxTextLength/3+10)
	p := SanitizePayload(action.Payload{Text: long})

	if len(p.Text) > MaxTextLength {
		t.Errorf("len(Text) = %d, want <= %d", len(p.Text), MaxTextLength)
	}
	if !utf8.ValidString(p.Text) {
		t.Error("truncated text is not valid UTF-8")
	}
}
