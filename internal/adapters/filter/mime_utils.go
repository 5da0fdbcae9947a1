package filter

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// extractTextFromMessage extracts the text content from an email message.
// For multipart messages it collects the text/plain parts; anything else
// falls back to the raw body.
func extractTextFromMessage(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return readBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	}

	boundary, ok := params["boundary"]
	if !ok {
		return readBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	}

	mr := multipart.NewReader(msg.Body, boundary)
	var textContent bytes.Buffer

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Return whatever text was collected before the malformed part
			break
		}

		partType := strings.ToLower(part.Header.Get("Content-Type"))
		if !strings.Contains(partType, "text/plain") {
			// Attachments, HTML alternatives and nested containers are
			// skipped; the plain part carries the customer's words.
			continue
		}

		text, err := readBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			continue
		}
		textContent.WriteString(text)
		textContent.WriteString("\n")
	}

	if textContent.Len() > 0 {
		return textContent.String(), nil
	}
	return "[no text content found in multipart message]", nil
}

// readBody reads a message or part body, undoing the transfer encoding.
func readBody(r io.Reader, transferEncoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// decodeEncodedHeader decodes RFC 2047 encoded-words in a header value,
// resolving non-UTF-8 charsets through the IANA registry.
func decodeEncodedHeader(value string) (string, error) {
	decoder := mime.WordDecoder{
		CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := ianaindex.MIME.Encoding(charset)
			if err != nil || enc == nil {
				return nil, err
			}
			return enc.NewDecoder().Reader(input), nil
		},
	}
	return decoder.DecodeHeader(value)
}

// hasAttachments reports whether a multipart message carries any
// non-inline, non-text parts.
func hasAttachments(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "multipart/mixed"
}
