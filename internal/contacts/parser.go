package contacts

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrEmptyUpload is returned when an upload carries no payload at all.
	ErrEmptyUpload = errors.New("contacts: no file content received")
	// ErrUploadTooLarge is returned when the payload exceeds the configured limit.
	ErrUploadTooLarge = errors.New("contacts: file exceeds the maximum upload size")
	// ErrUnsupportedFile is returned for spreadsheet formats that cannot be read.
	ErrUnsupportedFile = errors.New("contacts: unsupported spreadsheet format")
)

// phoneKeywords identifies phone columns by case-insensitive containment.
var phoneKeywords = []string{
	"phone", "telefone", "fone", "numero", "número", "number",
	"cel", "mobile", "whatsapp", "contato",
}

// nanLike values are treated as empty cells.
var nanLike = map[string]struct{}{
	"nan": {}, "null": {}, "none": {}, "n/a": {}, "na": {}, "-": {}, "nil": {},
}

var zipMagic = []byte("PK\x03\x04")

// Result is the output of Normalizer.Parse.
type Result struct {
	Records []PhoneRecord `json:"records"`
	Stats   Stats         `json:"stats"`
	// Columns holds the header names the phone values were read from.
	Columns []string `json:"columns,omitempty"`
	// Fallback reports that the naive splitter was used.
	Fallback bool `json:"fallback,omitempty"`
}

// Normalizer turns uploaded tabular data into deduplicated phone records.
type Normalizer struct {
	validator *PhoneValidator
	maxBytes  int64
	logger    *logging.Logger
}

// NormalizerOption customizes a Normalizer.
type NormalizerOption func(*Normalizer)

// WithMaxBytes caps the accepted upload size. Zero disables the check.
func WithMaxBytes(limit int64) NormalizerOption {
	return func(n *Normalizer) {
		n.maxBytes = limit
	}
}

// WithLogger sets the normalizer logger.
func WithLogger(logger *logging.Logger) NormalizerOption {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNormalizer builds a Normalizer around validator.
func NewNormalizer(validator *PhoneValidator, opts ...NormalizerOption) *Normalizer {
	if validator == nil {
		validator = NewPhoneValidator(DefaultValidatorConfig("BR", []string{"BR"}, true))
	}
	n := &Normalizer{
		validator: validator,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Parse reads the uploaded file and validates every unique phone value.
// An empty file yields zero records and no error.
func (n *Normalizer) Parse(data []byte, filename string) (Result, error) {
	if len(data) == 0 {
		return Result{Stats: BuildStats(nil)}, nil
	}
	if n.maxBytes > 0 && int64(len(data)) > n.maxBytes {
		return Result{}, fmt.Errorf("%w (%d bytes, limit %d)", ErrUploadTooLarge, len(data), n.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	var (
		rows     [][]string
		fallback bool
		err      error
	)
	switch {
	case ext == ".xls":
		return Result{}, fmt.Errorf("%w: legacy .xls workbooks must be saved as .xlsx or .csv", ErrUnsupportedFile)
	case ext == ".xlsx" || bytes.HasPrefix(data, zipMagic):
		rows, err = readWorkbook(data)
		if err != nil {
			return Result{}, err
		}
	default:
		text, encName := decodeText(data)
		rows, err = readDelimited(text)
		if err != nil {
			n.logger.Warn("contacts: csv parse failed, using naive split",
				"filename", filename, "encoding", encName, "error", err)
			rows = splitNaive(text)
			fallback = true
		}
	}

	values, columns := extractPhoneValues(rows)
	records := make([]PhoneRecord, 0, len(values))
	for _, raw := range values {
		records = append(records, n.validator.Validate(raw))
	}
	res := Result{
		Records:  records,
		Stats:    BuildStats(records),
		Columns:  columns,
		Fallback: fallback,
	}
	n.logger.Debug("contacts: upload normalized",
		"filename", filename,
		"total", res.Stats.Total,
		"valid", res.Stats.Valid,
		"fallback", fallback,
	)
	return res, nil
}

// FindPhoneColumns returns the indexes of headers that look like phone columns.
// When none match, the first column is used.
func FindPhoneColumns(headers []string) []int {
	var idx []int
	for i, h := range headers {
		if isPhoneHeader(h) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 && len(headers) > 0 {
		return []int{0}
	}
	return idx
}

func isPhoneHeader(h string) bool {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return false
	}
	for _, kw := range phoneKeywords {
		if strings.Contains(h, kw) {
			return true
		}
	}
	return false
}

// extractPhoneValues treats the first row as a header unless it already
// holds a phone-like value in the selected column.
func extractPhoneValues(rows [][]string) ([]string, []string) {
	rows = dropBlankRows(rows)
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	cols := FindPhoneColumns(header)
	body := rows[1:]

	matched := false
	for _, h := range header {
		if isPhoneHeader(h) {
			matched = true
			break
		}
	}
	if !matched && len(cols) == 1 && cols[0] < len(header) && looksLikePhone(header[cols[0]]) {
		body = rows
		header = nil
	}

	var names []string
	for _, c := range cols {
		if c < len(header) {
			names = append(names, strings.TrimSpace(header[c]))
		}
	}

	seen := make(map[string]struct{})
	var values []string
	for _, row := range body {
		for _, c := range cols {
			if c >= len(row) {
				continue
			}
			v := cleanCell(row[c])
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	return values, names
}

func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `"'`)
	v = strings.TrimSpace(v)
	if _, ok := nanLike[strings.ToLower(v)]; ok {
		return ""
	}
	// Spreadsheet exports often render integers as floats.
	if strings.HasSuffix(v, ".0") && isDigits(strings.TrimSuffix(v, ".0")) {
		v = strings.TrimSuffix(v, ".0")
	}
	return v
}

func looksLikePhone(v string) bool {
	digits := 0
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune(" +-()./", r):
		default:
			return false
		}
	}
	return digits >= 8
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// candidateEncodings are tried in order after UTF-8.
var candidateEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"windows-1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

// decodeText returns data as UTF-8 using the first encoding that decodes cleanly.
func decodeText(data []byte) (string, string) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	for _, c := range candidateEncodings {
		out, err := c.enc.NewDecoder().Bytes(data)
		if err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
			return string(out), c.name
		}
	}
	return strings.ToValidUTF8(string(data), ""), "utf-8-lossy"
}

func sniffDelimiter(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if c := strings.Count(first, string(d)); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best
}

func readDelimited(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("contacts: read csv: %w", err)
	}
	return rows, nil
}

// splitNaive splits lines on the sniffed delimiter, ignoring quoting rules.
func splitNaive(text string) [][]string {
	delim := string(sniffDelimiter(text))
	var rows [][]string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, delim)
		for i := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"'`)
		}
		rows = append(rows, parts)
	}
	return rows
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrUnsupportedFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("contacts: read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}
