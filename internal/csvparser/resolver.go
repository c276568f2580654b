package csvparser

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"MailBlast/internal/models"
)

// ResolutionError reports recipient input malformed enough that no job
// should start (missing header columns, unreadable header row).
type ResolutionError struct {
	Reason string
}

func (e *ResolutionError) Error() string { return "resolve recipients: " + e.Reason }

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Resolver streams validated recipients out of tabular CSV input.
// It is single-pass: the caller consumes it once, in file order.
type Resolver struct {
	reader   *csv.Reader
	nameIdx  int
	emailIdx int
	columns  int
}

// NewResolver reads and validates the header row. The input must contain
// "FirstName" and "Email" columns, matched case-insensitively; every other
// column is ignored.
func NewResolver(r io.Reader) (*Resolver, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, &ResolutionError{Reason: fmt.Sprintf("csv header unreadable: %v", err)}
	}

	nameIdx, emailIdx := -1, -1
	for i, h := range header {
		if i == 0 {
			// utf-8 BOM from spreadsheet exports
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if strings.EqualFold(h, "firstname") {
			nameIdx = i
		}
		if strings.EqualFold(h, "email") {
			emailIdx = i
		}
	}
	if nameIdx == -1 || emailIdx == -1 {
		return nil, &ResolutionError{Reason: "csv must contain FirstName and Email columns (case-insensitive)"}
	}

	return &Resolver{
		reader:   reader,
		nameIdx:  nameIdx,
		emailIdx: emailIdx,
		columns:  len(header),
	}, nil
}

// Next returns the next valid recipient in file order. Rows with missing or
// malformed values are skipped, not reported. Returns io.EOF when the input
// is exhausted.
func (r *Resolver) Next() (models.Recipient, error) {
	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			return models.Recipient{}, io.EOF
		}
		if err != nil {
			return models.Recipient{}, fmt.Errorf("csv read: %w", err)
		}

		if len(record) != r.columns {
			continue // skip malformed row
		}

		firstName := strings.TrimSpace(record[r.nameIdx])
		email := strings.TrimSpace(record[r.emailIdx])
		if firstName == "" || email == "" || !emailShape.MatchString(email) {
			continue
		}

		return models.Recipient{FirstName: firstName, Email: email}, nil
	}
}
