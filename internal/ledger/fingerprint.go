package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"clawback/internal/models"
)

// RawSourceEvent is one near-normalized row from a marketplace source report.
// Field aliases from the various report shapes are resolved at the HTTP
// boundary; by the time a row reaches this package it is strict.
type RawSourceEvent struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	SKU          string          `json:"sku"`
	ASIN         string          `json:"asin"`
	FNSKU        string          `json:"fnsku"`
	EventDate    time.Time       `json:"event_date"`
	Quantity     int             `json:"quantity"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	EventSubtype string          `json:"event_subtype"`
}

// fpSeparator joins fingerprint fields. "|" is not expected in any field; the
// normalizer strips it defensively so a hostile value cannot collide.
const fpSeparator = "|"

// Fingerprint derives the deterministic identity of the real-world event a
// ledger record represents. It is a pure function of (order id, sku-or-asin,
// event date truncated to day, subtype, absolute amount to cents, quantity):
// two logically identical events reported under different source report names
// fingerprint identically; any change in amount, date, or subtype does not.
func Fingerprint(ev models.LedgerEvent) string {
	orderID := ""
	if ev.OrderID != nil {
		orderID = *ev.OrderID
	}
	skuOrASIN := ""
	if ev.SKU != nil && *ev.SKU != "" {
		skuOrASIN = *ev.SKU
	} else if ev.ASIN != nil {
		skuOrASIN = *ev.ASIN
	}
	parts := []string{
		orderID,
		skuOrASIN,
		ev.EventDate.UTC().Format("2006-01-02"),
		ev.EventSubtype,
		ev.Amount.Abs().StringFixed(2),
		fmt.Sprintf("%d", ev.Quantity),
	}
	for i := range parts {
		parts[i] = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(parts[i]), fpSeparator, ""))
	}
	return strings.Join(parts, fpSeparator)
}

// EventID maps a fingerprint to the stable ledger primary key.
func EventID(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return "evt_" + hex.EncodeToString(sum[:16])
}

// Normalize maps one raw source row into a canonical LedgerEvent. It performs
// no I/O; malformed rows return an error and are skipped by the caller.
func Normalize(raw RawSourceEvent, sourceType, merchantID, sourceReport string) (models.LedgerEvent, error) {
	if strings.TrimSpace(merchantID) == "" {
		return models.LedgerEvent{}, errors.New("merchant id is empty")
	}
	switch sourceType {
	case models.SourceTypeOrder, models.SourceTypeRefund, models.SourceTypeAdjustment,
		models.SourceTypeFee, models.SourceTypeReimbursement, models.SourceTypeInventory,
		models.SourceTypeReturn:
	default:
		return models.LedgerEvent{}, fmt.Errorf("unknown source type %q", sourceType)
	}
	if raw.EventDate.IsZero() {
		return models.LedgerEvent{}, fmt.Errorf("raw event %q has no event date", raw.ID)
	}
	subtype := strings.ToLower(strings.TrimSpace(raw.EventSubtype))
	if subtype == "" {
		subtype = sourceType
	}

	rawID := strings.TrimSpace(raw.ID)
	if rawID == "" {
		rawID = uuid.NewString()
	}
	quantity := raw.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = "USD"
	}

	ev := models.LedgerEvent{
		MerchantID:   strings.TrimSpace(merchantID),
		SourceType:   sourceType,
		SourceReport: strings.TrimSpace(sourceReport),
		EventDate:    raw.EventDate.UTC().Truncate(24 * time.Hour),
		OrderID:      optString(raw.OrderID),
		SKU:          optString(raw.SKU),
		ASIN:         optString(raw.ASIN),
		FNSKU:        optString(raw.FNSKU),
		Quantity:     quantity,
		Amount:       raw.Amount.Round(2),
		Currency:     currency,
		EventSubtype: subtype,
		MergeCount:   1,
	}
	ids, _ := json.Marshal([]string{rawID})
	ev.SourceEventIDs = datatypes.JSON(ids)
	ev.ReconciliationNotes = datatypes.JSON([]byte(`[]`))
	ev.EventID = EventID(Fingerprint(ev))
	return ev, nil
}

func optString(s string) *string {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return &v
}
