package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMissingField is returned when a required citation field is absent
// from the ticket metadata.
var ErrMissingField = errors.New("missing metadata field")

var risDate = regexp.MustCompile(`^([0-9]{4})([0-9]{2})([0-9]{2})$`)

// RIS renders the bibliographic metadata into the RIS citation format,
// one "<TAG>  - <value>" line per field. Multi-valued fields (creators,
// subject and person headings) emit one line per value; empty values are
// skipped, never emitted as blank lines.
func RIS(metadata map[string]any) (string, error) {
	var b strings.Builder

	resourceType, err := stringField(metadata, "resourceType")
	if err != nil {
		return "", err
	}
	writeTag(&b, "TY", resourceType)

	creators, ok := metadata["creator"].([]any)
	if !ok {
		return "", fmt.Errorf("%w: creator", ErrMissingField)
	}
	n := 0
	for _, c := range creators {
		value := romanization(c)
		if value == "" {
			continue
		}
		n++
		writeTag(&b, fmt.Sprintf("A%d", n), value)
	}

	date, err := stringField(metadata, "publicationDate")
	if err != nil {
		return "", err
	}
	if m := risDate.FindStringSubmatch(date); m != nil {
		date = fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])
	}
	writeTag(&b, "DA", date)

	for _, key := range []string{"subjectHeading", "personHeading"} {
		headings, ok := metadata[key].([]any)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingField, key)
		}
		for _, h := range headings {
			keyword, _ := h.(string)
			writeTag(&b, "KW", keyword)
		}
	}

	publisher, ok := metadata["publisher"]
	if !ok {
		return "", fmt.Errorf("%w: publisher", ErrMissingField)
	}
	writeTag(&b, "PB", romanization(publisher))

	title, ok := metadata["title"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: title", ErrMissingField)
	}
	primary, _ := title["romanization"].(string)
	writeTag(&b, "T1", primary)
	if script, _ := title["script"].(string); script != "" {
		writeTag(&b, "T2", script)
	}

	url, err := stringField(metadata, "url")
	if err != nil {
		return "", err
	}
	writeTag(&b, "UR", url)

	return b.String(), nil
}

func writeTag(b *strings.Builder, tag, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s  - %s\n", tag, value)
}

func stringField(metadata map[string]any, key string) (string, error) {
	value, ok := metadata[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return value, nil
}

// romanization extracts the romanized form from a {romanization, script}
// mapping. A bare string passes through unchanged.
func romanization(value any) string {
	switch v := value.(type) {
	case map[string]any:
		s, _ := v["romanization"].(string)
		return s
	case string:
		return v
	}
	return ""
}
