package jsonfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidDocument is returned when a whole document can not be used.
// The routing keeps the previous snapshot in this case.
var ErrInvalidDocument = errors.New("invalid document")

func invalidDocument(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDocument, name, fmt.Sprintf(format, args...))
}

// escapeKey escapes the gjson path characters in a literal object key.
func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}

// field returns the value of a literal key, including keys containing
// dots.
func field(v gjson.Result, key string) gjson.Result {
	return v.Get(escapeKey(key))
}

func parseDocument(name string, data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, invalidDocument(name, "not valid JSON")
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return gjson.Result{}, invalidDocument(name, "not a JSON object")
	}

	return doc, nil
}

func requireObject(doc gjson.Result, name, key string) (gjson.Result, error) {
	v := field(doc, key)
	if !v.IsObject() {
		return gjson.Result{}, invalidDocument(name, "missing object %q", key)
	}

	return v, nil
}

func requireArray(doc gjson.Result, name, key string) (gjson.Result, error) {
	v := field(doc, key)
	if !v.IsArray() {
		return gjson.Result{}, invalidDocument(name, "missing array %q", key)
	}

	return v, nil
}

// stringList returns the non-empty string items of an array value.
func stringList(v gjson.Result) []string {
	var s []string
	for _, item := range v.Array() {
		if str := item.String(); str != "" {
			s = append(s, str)
		}
	}

	return s
}

func stringSet(v gjson.Result) map[string]struct{} {
	items := stringList(v)
	if len(items) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}

	return set
}

// optBool returns the boolean value of v, or def when it is missing.
// String values like "true" are accepted.
func optBool(v gjson.Result, def bool) bool {
	if !v.Exists() || v.Type == gjson.Null {
		return def
	}

	return v.Bool()
}

func isNumber(v gjson.Result) bool {
	return v.Type == gjson.Number
}

func readFile(name string) ([]byte, error) {
	if name == "" {
		return nil, nil
	}

	return os.ReadFile(name)
}
