package document

import (
	"database/sql"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/teranos/tally/errors"
)

// documentColumns is the column order every document SELECT uses
const documentColumns = `id, owner_id, file_ref, original_name, file_type, file_size, status,
	doc_type, date, time, merchant, location, total_amount, currency, is_income,
	extraction_confidence, extraction_source, fallback_reason, suggested_tags,
	ocr_raw_text, ocr_confidence, ocr_low_confidence,
	error_message, attempts, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanArgs holds the nullable columns of a document row
type scanArgs struct {
	DocType        sql.NullString
	Date           sql.NullString
	Time           sql.NullString
	Merchant       sql.NullString
	Location       sql.NullString
	TotalAmount    decimal.NullDecimal
	Currency       sql.NullString
	IsIncome       sql.NullBool
	Confidence     sql.NullFloat64
	Source         sql.NullString
	FallbackReason sql.NullString
	SuggestedTags  sql.NullString
	OCRRawText     sql.NullString
	OCRConfidence  sql.NullFloat64
	ErrorMessage   sql.NullString
}

func scanTargets(doc *Document, args *scanArgs) []interface{} {
	return []interface{}{
		&doc.ID,
		&doc.OwnerID,
		&doc.FileRef,
		&doc.OriginalName,
		&doc.FileType,
		&doc.FileSize,
		&doc.Status,
		&args.DocType,
		&args.Date,
		&args.Time,
		&args.Merchant,
		&args.Location,
		&args.TotalAmount,
		&args.Currency,
		&args.IsIncome,
		&args.Confidence,
		&args.Source,
		&args.FallbackReason,
		&args.SuggestedTags,
		&args.OCRRawText,
		&args.OCRConfidence,
		&doc.OCRLowConfidence,
		&args.ErrorMessage,
		&doc.Attempts,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	}
}

// apply copies scanned nullable columns onto doc. Extraction is only built
// for completed documents.
func (args *scanArgs) apply(doc *Document) error {
	if args.OCRRawText.Valid {
		text := args.OCRRawText.String
		doc.OCRRawText = &text
	}
	if args.OCRConfidence.Valid {
		conf := args.OCRConfidence.Float64
		doc.OCRConfidence = &conf
	}
	if args.ErrorMessage.Valid {
		msg := args.ErrorMessage.String
		doc.ErrorMessage = &msg
	}

	if doc.Status != StatusCompleted {
		return nil
	}

	ext := &Extraction{
		DocType:        ParseDocType(args.DocType.String),
		Date:           args.Date.String,
		Time:           args.Time.String,
		Merchant:       args.Merchant.String,
		Location:       args.Location.String,
		TotalAmount:    args.TotalAmount,
		Currency:       args.Currency.String,
		IsIncome:       args.IsIncome.Bool,
		Confidence:     args.Confidence.Float64,
		Source:         Source(args.Source.String),
		FallbackReason: args.FallbackReason.String,
		SuggestedTags:  []string{},
	}
	if ext.Currency == "" {
		ext.Currency = DefaultCurrency
	}
	if args.SuggestedTags.Valid && args.SuggestedTags.String != "" {
		if err := json.Unmarshal([]byte(args.SuggestedTags.String), &ext.SuggestedTags); err != nil {
			return errors.Wrapf(err, "failed to decode suggested tags for document %s", doc.ID)
		}
	}
	doc.Extraction = ext
	return nil
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var args scanArgs
	if err := row.Scan(scanTargets(&doc, &args)...); err != nil {
		return nil, err
	}
	if err := args.apply(&doc); err != nil {
		return nil, err
	}
	doc.Items = []Item{}
	return &doc, nil
}

const itemColumns = `position, name, quantity, unit, unit_price, total_price, category`

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var unit, category sql.NullString
	err := row.Scan(&item.Position, &item.Name, &item.Quantity, &unit, &item.UnitPrice, &item.TotalPrice, &category)
	if err != nil {
		return Item{}, err
	}
	item.Unit = unit.String
	item.Category = category.String
	return item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
