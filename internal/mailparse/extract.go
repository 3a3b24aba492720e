package mailparse

import (
	"regexp"
	"strings"
)

// excerptMaxLines caps the new-text excerpt kept per message.
const excerptMaxLines = 3

// ExtractNewText returns the text a message newly contributes:
// quoted history and signatures removed, truncated to at most three
// lines or the first paragraph break, whichever comes first. When the
// body yields nothing the subject stands in, so every message keeps a
// readable excerpt.
func ExtractNewText(subject, body string) string {
	if strings.TrimSpace(body) == "" {
		return strings.TrimSpace(subject)
	}

	text := normalizeText(body)
	text = stripQuoted(text)
	text = stripSignature(text)
	text = excerpt(text)

	if text == "" {
		return strings.TrimSpace(subject)
	}
	return text
}

// normalizeText unifies line endings, trims trailing space and
// squeezes runs of blank lines down to one.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	blank := 0
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimRight(ln, " \t")
		if strings.TrimSpace(ln) == "" {
			blank++
			if blank == 1 {
				out = append(out, "")
			}
			continue
		}
		blank = 0
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var quotePrefixes = []string{"from:", "sent:", "-----original message-----"}

// isQuoteDelimiter reports whether a line begins quoted reply history.
func isQuoteDelimiter(line string) bool {
	low := strings.ToLower(strings.TrimSpace(line))
	if strings.HasPrefix(low, ">") {
		return true
	}
	if strings.HasPrefix(low, "on ") && strings.Contains(low, "wrote:") {
		return true
	}
	for _, p := range quotePrefixes {
		if strings.HasPrefix(low, p) {
			return true
		}
	}
	return false
}

// stripQuoted drops everything from the first quoted-history delimiter
// onward, including text below an "On ... wrote:" line.
func stripQuoted(text string) string {
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		if isQuoteDelimiter(ln) {
			return strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
	}
	return text
}

// stripSignature drops everything below a conventional "--" delimiter.
func stripSignature(text string) string {
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		if ln == "--" || ln == "-- " {
			return strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
	}
	return text
}

// excerpt keeps at most excerptMaxLines lines, stopping early at the
// first paragraph break.
func excerpt(text string) string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		ln := strings.TrimSpace(raw)
		if ln == "" {
			break
		}
		out = append(out, ln)
		if len(out) == excerptMaxLines {
			break
		}
	}
	return strings.Join(out, "\n")
}

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

// StripHTML reduces an HTML body to visible plain text: block-level
// closers become newlines, tags are removed and common entities are
// decoded.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>", "</tr>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagRE.ReplaceAllString(result, "")
	result = htmlEntities.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
