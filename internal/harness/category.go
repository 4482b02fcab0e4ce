package harness

import "strings"

// LegacyCategories is the ordered checklist used to infer a category from a
// test name. The first substring match wins, so a test named
// "TestElasticsearchPipeline" is tagged elasticsearch only.
var LegacyCategories = []string{
	"generator",
	"summarizer",
	"tika",
	"elasticsearch",
	"graphdb",
	"pipeline",
	"slow",
	"weaviate",
}

// InferCategory returns the first legacy category contained in name,
// compared case-insensitively.
func InferCategory(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, c := range LegacyCategories {
		if strings.Contains(lower, c) {
			return c, true
		}
	}
	return "", false
}
