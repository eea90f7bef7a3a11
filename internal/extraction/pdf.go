package extraction

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/pkg/logger"
)

// extractPDFText reads every page's content stream. Pages without text
// operators contribute an empty string; an unreadable document is an error.
func extractPDFText(content []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu read: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(content), conf)
	if err != nil {
		return "", 0, fmt.Errorf("pdfcpu read: %w", err)
	}

	pageTexts := make([]string, 0, ctx.PageCount)
	shows := 0
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageText, n := extractPageText(ctx, pageNr)
		pageTexts = append(pageTexts, pageText)
		shows += n
	}

	text = strings.Join(pageTexts, "\n")
	if shows > 0 && strings.TrimSpace(text) == "" {
		logger.Warn("PDF has text operators but no decodable text",
			zap.Int("pages", ctx.PageCount),
			zap.Int("text_operators", shows),
		)
	}

	return text, ctx.PageCount, nil
}

func extractPageText(ctx *model.Context, pageNr int) (string, int) {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return "", 0
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return "", 0
	}
	return streamText(data)
}

// extractTextFromStream parses content stream text operators (Tj, TJ, ', ", Td, TD, Tm, T*).
func extractTextFromStream(data []byte) string {
	text, _ := streamText(data)
	return text
}

// streamText returns the page text and the number of text-showing operators seen.
func streamText(data []byte) (string, int) {
	var (
		sb       strings.Builder
		operands []pdfToken
		shows    int
	)

	lex := &pdfLexer{data: data}
	for {
		tok, ok := lex.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj", "TJ":
			shows++
			writeOperandStrings(&sb, operands, false)
		case "'", `"`:
			shows++
			writeOperandStrings(&sb, operands, true)
		case "Td", "TD", "Tm":
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case "T*":
			sb.WriteByte('\n')
		case "ID":
			lex.skipInlineImage()
		}
		operands = operands[:0]
	}

	return cleanPDFText(sb.String()), shows
}

func writeOperandStrings(sb *strings.Builder, operands []pdfToken, newline bool) {
	if newline {
		sb.WriteByte('\n')
	}
	for _, op := range operands {
		if op.kind == tokString {
			sb.WriteString(op.text)
		}
	}
}

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokString
	tokOther
)

type pdfToken struct {
	kind tokenKind
	text string
}

type pdfLexer struct {
	data []byte
	pos  int
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (l *pdfLexer) next() (pdfToken, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFWhitespace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			return pdfToken{kind: tokString, text: l.literalString()}, true
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return pdfToken{kind: tokOther, text: "<<"}, true
			}
			return pdfToken{kind: tokString, text: l.hexString()}, true
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return pdfToken{kind: tokOther, text: ">>"}, true
		case c == '[' || c == ']' || c == '{' || c == '}' || c == ')':
			l.pos++
			return pdfToken{kind: tokOther, text: string(c)}, true
		case c == '/':
			l.pos++
			return pdfToken{kind: tokOther, text: "/" + l.regular()}, true
		default:
			word := l.regular()
			if isPDFNumber(word) {
				return pdfToken{kind: tokOther, text: word}, true
			}
			return pdfToken{kind: tokOperator, text: word}, true
		}
	}
	return pdfToken{}, false
}

func (l *pdfLexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isPDFWhitespace(l.data[l.pos]) && !isPDFDelimiter(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func isPDFNumber(word string) bool {
	if word == "" {
		return false
	}
	for i := 0; i < len(word); i++ {
		c := word[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}

// literalString consumes a balanced (...) string starting at the opening paren.
func (l *pdfLexer) literalString() string {
	l.pos++
	start := l.pos
	depth := 1
	for l.pos < len(l.data) {
		switch l.data[l.pos] {
		case '\\':
			l.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				raw := l.data[start:l.pos]
				l.pos++
				return pdfTextString(decodePDFString(raw))
			}
		}
		l.pos++
	}
	return pdfTextString(decodePDFString(l.data[start:]))
}

func (l *pdfLexer) hexString() string {
	l.pos++
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if c := l.data[l.pos]; !isPDFWhitespace(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++

	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, hex.DecodedLen(len(digits)))
	n, err := hex.Decode(raw, digits)
	if err != nil {
		return ""
	}
	return pdfTextString(raw[:n])
}

// skipInlineImage advances past inline image data up to its EI operator.
func (l *pdfLexer) skipInlineImage() {
	for l.pos+2 <= len(l.data) {
		if l.data[l.pos] == 'E' && l.data[l.pos+1] == 'I' &&
			(l.pos == 0 || isPDFWhitespace(l.data[l.pos-1])) &&
			(l.pos+2 == len(l.data) || isPDFWhitespace(l.data[l.pos+2])) {
			l.pos += 2
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}

// decodePDFString handles the escape sequences of PDF literal strings.
func decodePDFString(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out = append(out, raw[i])
			continue
		}

		i++
		switch raw[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'b', 'f':
		case '\r', '\n':
			if raw[i] == '\r' && i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		case '\\', '(', ')':
			out = append(out, raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				out = append(out, raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			out = append(out, byte(val))
		}
	}
	return out
}

// pdfTextString maps string bytes to text. UTF-16BE with a BOM is decoded;
// two-byte codes with a zero high byte keep their low byte; anything else is
// read as Latin-1.
func pdfTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		b = b[2:]
		units := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(units))
	}

	if len(b) >= 2 && len(b)%2 == 0 {
		wide := true
		for i := 0; i < len(b); i += 2 {
			if b[i] != 0 {
				wide = false
				break
			}
		}
		if wide {
			narrow := make([]byte, 0, len(b)/2)
			for i := 1; i < len(b); i += 2 {
				narrow = append(narrow, b[i])
			}
			b = narrow
		}
	}

	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// cleanPDFText collapses horizontal whitespace, squeezes blank lines and
// drops non-printable runes. Line breaks are kept.
func cleanPDFText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return ' '
			}
			if !unicode.IsPrint(r) {
				return -1
			}
			return r
		}, line)
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}
