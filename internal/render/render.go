// Package render writes report artifacts to the output tree:
//
//	<root>/YYYY/MM/DD.md
//	<root>/YYYY/MM/DD.json
//	<root>/YYYY/MM/DD.html
//	<root>/latest.md, latest.json
//	<root>/index.html
//
// Artifacts are written atomically (temp file then rename) so a
// half-written report is never observable, and rendering is a pure
// function of the report model so reruns rewrite identical bytes.
package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mailtriage/internal/models"
	"mailtriage/internal/report"
)

// WindowPaths returns the artifact paths for a window label.
func WindowPaths(root, label string) (md, js, html string, err error) {
	parts := strings.SplitN(label, "-", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("render: bad window label %q", label)
	}
	dir := filepath.Join(root, parts[0], parts[1])
	return filepath.Join(dir, parts[2]+".md"),
		filepath.Join(dir, parts[2]+".json"),
		filepath.Join(dir, parts[2]+".html"),
		nil
}

// WriteWindow renders all three artifact forms for one window.
func WriteWindow(root string, r *report.Report) error {
	mdPath, jsPath, htmlPath, err := WindowPaths(root, r.Window.Label)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(mdPath), 0o755); err != nil {
		return fmt.Errorf("render: creating %s: %w", filepath.Dir(mdPath), err)
	}

	md := Markdown(r)
	js, err := JSON(r)
	if err != nil {
		return err
	}

	for _, artifact := range []struct {
		path string
		data []byte
	}{
		{mdPath, []byte(md)},
		{jsPath, js},
		{htmlPath, []byte(html(r, md))},
	} {
		if err := writeAtomic(artifact.path, artifact.data); err != nil {
			return err
		}
	}
	return nil
}

// WriteLatest copies the given window's markdown and JSON artifacts to
// the stable latest.md / latest.json names. The caller passes the
// chronologically newest processed window.
func WriteLatest(root, label string) error {
	mdPath, jsPath, _, err := WindowPaths(root, label)
	if err != nil {
		return err
	}
	for _, c := range []struct{ src, dst string }{
		{mdPath, filepath.Join(root, "latest.md")},
		{jsPath, filepath.Join(root, "latest.json")},
	} {
		data, err := os.ReadFile(c.src)
		if err != nil {
			return fmt.Errorf("render: reading %s: %w", c.src, err)
		}
		if err := writeAtomic(c.dst, data); err != nil {
			return err
		}
	}
	return nil
}

// RebuildIndex scans the tree for per-day reports and writes an
// index.html linking them, newest first.
func RebuildIndex(root string) error {
	matches, err := filepath.Glob(filepath.Join(root, "*", "*", "*.html"))
	if err != nil {
		return fmt.Errorf("render: scanning tree: %w", err)
	}

	type entry struct{ label, rel string }
	var entries []entry
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			continue
		}
		day := strings.TrimSuffix(parts[2], ".html")
		entries = append(entries, entry{
			label: parts[0] + "-" + parts[1] + "-" + day,
			rel:   filepath.ToSlash(rel),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].label > entries[j].label })

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Mail triage reports</title></head>\n<body>\n")
	b.WriteString("<h1>Mail triage reports</h1>\n<ul>\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "<li><a href=%q>%s</a></li>\n", e.rel, escapeHTML(e.label))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")

	return writeAtomic(filepath.Join(root, "index.html"), []byte(b.String()))
}

// JSON marshals the report model with stable indentation.
func JSON(r *report.Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: marshaling report: %w", err)
	}
	return append(data, '\n'), nil
}

var bucketHeadings = map[models.Bucket]string{
	models.BucketHighPriority: "High priority",
	models.BucketArrivalOnly:  "Arrivals",
	models.BucketNormal:       "Other messages",
}

// Markdown renders the human-readable report.
func Markdown(r *report.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Mail triage report for %s\n\n", r.Window.Label)
	fmt.Fprintf(&b, "Window: %s to %s (%s)\n\n",
		r.Window.StartLocal, r.Window.EndLocal, r.Window.Timezone)

	for _, bucket := range r.Buckets {
		fmt.Fprintf(&b, "## %s\n\n", bucketHeadings[bucket.Bucket])
		if len(bucket.Threads) == 0 {
			b.WriteString("Nothing in this window.\n\n")
			continue
		}
		for _, t := range bucket.Threads {
			writeThread(&b, &t, bucket.Bucket)
		}
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Messages: %d\n", r.Summary.Messages)
	fmt.Fprintf(&b, "- Threads: %d\n", r.Summary.Threads)
	fmt.Fprintf(&b, "- High priority: %d\n", r.Summary.HighPriority)
	fmt.Fprintf(&b, "- Arrivals: %d\n", r.Summary.ArrivalOnly)
	fmt.Fprintf(&b, "- Other: %d\n", r.Summary.Normal)
	fmt.Fprintf(&b, "- Suppressed: %d\n", r.Summary.Suppressed)
	if r.Summary.SkippedParse > 0 {
		fmt.Fprintf(&b, "- Skipped (unparseable): %d\n", r.Summary.SkippedParse)
	}
	if r.Summary.FailedAccounts > 0 {
		fmt.Fprintf(&b, "- Failed accounts: %d\n", r.Summary.FailedAccounts)
	}

	return b.String()
}

func writeThread(b *strings.Builder, t *report.ThreadGroup, bucket models.Bucket) {
	subject := t.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	fmt.Fprintf(b, "### %s\n\n", subject)
	fmt.Fprintf(b, "Participants: %s\n\n", strings.Join(t.Participants, ", "))

	// Arrival-only threads are one-line entries: the fact of arrival,
	// no excerpts.
	if bucket == models.BucketArrivalOnly {
		for _, m := range t.Messages {
			fmt.Fprintf(b, "- %s from %s: %s\n", m.DateUTC, m.From, orNoSubject(m.Subject))
		}
		b.WriteString("\n")
		return
	}

	for _, m := range t.Messages {
		direction := "from"
		if m.Outbound {
			direction = "sent by"
		}
		fmt.Fprintf(b, "- **%s** %s %s\n", m.DateUTC, direction, m.From)
		for _, ln := range strings.Split(m.Excerpt, "\n") {
			if ln != "" {
				fmt.Fprintf(b, "  > %s\n", ln)
			}
		}
		if m.HasAttachments {
			if len(m.AttachmentNames) > 0 {
				fmt.Fprintf(b, "  Attachments: %s\n", strings.Join(m.AttachmentNames, ", "))
			} else {
				b.WriteString("  Attachments: yes\n")
			}
		}
	}
	b.WriteString("\n")
}

func orNoSubject(s string) string {
	if s == "" {
		return "(no subject)"
	}
	return s
}

// html wraps the markdown in a minimal page. The markdown is already
// readable as preformatted text; a real renderer is out of scope.
func html(r *report.Report, markdown string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>Mail triage %s</title>", escapeHTML(r.Window.Label))
	b.WriteString("</head>\n<body>\n<pre>\n")
	b.WriteString(escapeHTML(markdown))
	b.WriteString("</pre>\n</body>\n</html>\n")
	return b.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("render: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("render: renaming %s: %w", tmp, err)
	}
	return nil
}
