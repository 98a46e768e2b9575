// htmltext.go extracts clean text from downloaded HTML artifacts: strip
// <script> and <style> blocks, strip remaining tags, decode the fixed
// entity set the sources actually emit, and collapse whitespace.
package lifecycle

import (
	"regexp"
	"strings"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blockRe  = regexp.MustCompile(`(?i)<(?:br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t\r\f\v]+`)
	linesRe  = regexp.MustCompile(`\n{3,}`)
)

// entityReplacer decodes the entities observed in source documents. Unknown
// entities pass through untouched.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&#160;", " ",
	"&amp;", "&",
	"&#38;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#34;", `"`,
	"&apos;", "'",
	"&#39;", "'",
	"&ndash;", "-",
	"&mdash;", "-",
	"&rsquo;", "'",
	"&lsquo;", "'",
	"&rdquo;", `"`,
	"&ldquo;", `"`,
)

// CleanText turns a raw HTML (or plain-text) artifact into normalized text.
func CleanText(raw string) string {
	text := scriptRe.ReplaceAllString(raw, " ")
	text = styleRe.ReplaceAllString(text, " ")

	// Preserve block boundaries as newlines before stripping tags so
	// paragraphs don't run together.
	text = blockRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, " ")

	text = entityReplacer.Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text = strings.Join(lines, "\n")
	text = linesRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
