// internal/gender/features.go
package gender

import (
	"strconv"
	"strings"
)

// Features maps a feature name to its value. Values are strings so the
// model can be serialised without type tags; counts and flags are rendered
// with strconv.
type Features map[string]string

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// NameFeatures extracts the name-classification features: first and last
// letter, the full name, two and three character affixes, and a count and
// presence flag per letter. Letter features look at the lower-cased name,
// the affixes keep the original case.
func NameFeatures(name string) Features {
	runes := []rune(name)
	lower := strings.ToLower(name)

	f := make(Features, 3+4+2*len(alphabet))
	f["name"] = name
	if len(runes) > 0 {
		f["first_letter"] = string(runes[0])
		f["last_letter"] = string(runes[len(runes)-1])
	}
	if len(runes) > 1 {
		f["first_two"] = string(runes[:2])
		f["last_two"] = string(runes[len(runes)-2:])
	}
	if len(runes) > 2 {
		f["first_three"] = string(runes[:3])
		f["last_three"] = string(runes[len(runes)-3:])
	}

	for _, letter := range alphabet {
		n := strings.Count(lower, string(letter))
		f["count("+string(letter)+")"] = strconv.Itoa(n)
		f["has("+string(letter)+")"] = strconv.FormatBool(n > 0)
	}
	return f
}
