package mailparse

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"

	"mailtriage/internal/models"
)

// ErrNoDate is returned for messages whose Date header is missing or
// unparseable and that carry no usable internal date. Such messages
// are skipped with a warning, not fatal.
var ErrNoDate = errors.New("message has no usable date")

// Options carries the per-account context needed to normalize one
// fetched message.
type Options struct {
	AccountID string
	Folder    string
	UID       uint32
	Identity  models.IdentityConfig
}

var msgIDTokenRE = regexp.MustCompile(`<[^<>\s]+>`)

// Parse normalizes a raw IMAP message into a Message. It decodes
// encoded-word headers, selects the best body part, strips quoted
// history and derives the inbound/outbound flag from the configured
// identity. Parsing is a pure transformation; failures are reported
// to the caller and never abort the run.
func Parse(msg *imap.Message, opts Options) (*models.Message, error) {
	section := &imap.BodySectionName{}
	r := msg.GetBody(section)
	if r == nil {
		return nil, errors.New("message has no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	header := mr.Header

	date, err := header.Date()
	if err != nil || date.IsZero() {
		date = msg.InternalDate
	}
	if date.IsZero() {
		return nil, ErrNoDate
	}

	out := &models.Message{
		AccountID: opts.AccountID,
		Folder:    opts.Folder,
		DateUTC:   date.UTC(),
	}

	out.From = extractAddress(header.Get("From"))
	out.To = addressList(&header, "To")
	out.Cc = addressList(&header, "Cc")

	subject, err := header.Subject()
	if err != nil {
		subject = DecodeHeader(header.Get("Subject"))
	}
	out.Subject = CollapseWhitespace(subject)

	out.MessageID = ComputeMessageID(header.Get("Message-Id"), opts)
	out.References = referenceTokens(header.Get("References"), header.Get("In-Reply-To"))

	identity := identitySet(opts.Identity)
	_, out.Outbound = identity[out.From]
	out.Inbound = !out.Outbound

	plain, html, attachments := walkParts(mr)
	body := plain
	if body == "" && html != "" {
		body = StripHTML(html)
	}

	out.ExtractedNewText = ExtractNewText(out.Subject, body)
	out.AttachmentNames = attachments
	out.HasAttachments = len(attachments) > 0

	return out, nil
}

// walkParts collects the first text/plain and text/html inline parts
// and the filenames of any attachments.
func walkParts(mr *mail.Reader) (plain, html string, attachments []string) {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			// A broken part does not invalidate the parts already read.
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, err := h.ContentType()
			if err != nil {
				continue
			}
			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			switch {
			case contentType == "text/plain" && plain == "":
				plain = string(body)
			case contentType == "text/html" && html == "":
				html = string(body)
			}
		case *mail.AttachmentHeader:
			if name, err := h.Filename(); err == nil && name != "" {
				attachments = append(attachments, name)
			}
		}
	}
	return plain, html, attachments
}

// DecodeHeader decodes MIME encoded-word headers (e.g. "=?UTF-8?B?...?=")
// to plain text. Fragments that cannot be decoded pass through as-is.
func DecodeHeader(encoded string) string {
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}

// addressRE extracts a bare address from headers too mangled for the
// structured parser.
var addressRE = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// extractAddress returns the lowercased address portion of a From-style
// header value.
func extractAddress(value string) string {
	addrs, err := mail.ParseAddressList(value)
	if err == nil && len(addrs) > 0 {
		return strings.ToLower(addrs[0].Address)
	}
	return strings.ToLower(addressRE.FindString(value))
}

// addressList returns the lowercased addresses of a recipient header,
// duplicates removed, order preserved.
func addressList(h *mail.Header, key string) []string {
	var out []string
	seen := make(map[string]bool)

	addrs, err := h.AddressList(key)
	if err != nil {
		// Fall back to scraping whatever looks like an address.
		for _, a := range addressRE.FindAllString(h.Get(key), -1) {
			a = strings.ToLower(a)
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
		return out
	}

	for _, addr := range addrs {
		a := strings.ToLower(addr.Address)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// ComputeMessageID returns the normalized Message-ID token, or a
// synthetic identifier when the header is missing or malformed so that
// every stored message still has a stable unique key. Callers with an
// already-fetched envelope use this to decide whether a message is
// known before paying for body parsing.
func ComputeMessageID(raw string, opts Options) string {
	raw = strings.TrimSpace(raw)
	if msgIDTokenRE.MatchString(raw) && strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">") {
		return normalizeToken(raw)
	}
	return fmt.Sprintf("synthetic:%s:%s:%d", opts.AccountID, opts.Folder, opts.UID)
}

// referenceTokens merges the References and In-Reply-To chains into a
// normalized token list, duplicates removed, order preserved.
func referenceTokens(references, inReplyTo string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range msgIDTokenRE.FindAllString(references+" "+inReplyTo, -1) {
		tok := normalizeToken(raw)
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(raw), "<>"))
}

// identitySet builds the lowercased address set that marks a message
// as outbound. Matching is exact per address, never substring.
func identitySet(id models.IdentityConfig) map[string]struct{} {
	set := make(map[string]struct{}, 1+len(id.Aliases))
	if id.PrimaryAddress != "" {
		set[strings.ToLower(id.PrimaryAddress)] = struct{}{}
	}
	for _, a := range id.Aliases {
		set[strings.ToLower(a)] = struct{}{}
	}
	return set
}

// CollapseWhitespace folds all whitespace runs, including header line
// folds, into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
