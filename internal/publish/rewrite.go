package publish

import (
	"regexp"
	"strings"
)

const representationID = "$RepresentationID$"

var baseURLPattern = regexp.MustCompile(`<BaseURL>([^<]*)</BaseURL>`)

// RewriteMPD prefixes templated BaseURLs with their representation folder so
// they resolve against the mirrored layout.
func RewriteMPD(doc []byte) []byte {
	return baseURLPattern.ReplaceAllFunc(doc, func(m []byte) []byte {
		x := string(baseURLPattern.FindSubmatch(m)[1])
		if !strings.Contains(x, representationID) {
			return m
		}
		folder := strings.ReplaceAll(x, representationID, "")
		return []byte("<BaseURL>" + folder + "/" + x + "</BaseURL>")
	})
}
