package connectors

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	types "github.com/eddyhq/eddy-backend/internal/domain"
)

// zeroDecimalCurrencies have no minor unit; everything else is assumed to
// carry two.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"ISK": true,
}

func MinorUnitDigits(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ParseAmountMinor converts a connector-reported decimal amount string into
// signed minor units, exactly. More fractional digits than the currency
// carries is a malformed event, not a rounding opportunity.
func ParseAmountMinor(amount, currency string) (int64, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	digits := MinorUnitDigits(currency)
	shifted := d.Shift(digits)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %q has more precision than %s allows", amount, strings.ToUpper(currency))
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return shifted.IntPart(), nil
}

var eventKinds = map[string]types.EventKind{
	string(types.EventKindBankTransaction):    types.EventKindBankTransaction,
	string(types.EventKindPayout):             types.EventKindPayout,
	string(types.EventKindBalanceTransaction): types.EventKindBalanceTransaction,
	string(types.EventKindOpsPayment):         types.EventKindOpsPayment,
	string(types.EventKindOpsInvoice):         types.EventKindOpsInvoice,
}

// Normalize validates one connector observation and produces the row the
// event store writes. Validation failures describe the field at fault so the
// ingest report can carry them back to the connector.
func Normalize(companyID uuid.UUID, in RawEventInput) (*types.RawEvent, error) {
	if companyID == uuid.Nil {
		return nil, fmt.Errorf("missing company id")
	}
	source := strings.TrimSpace(strings.ToLower(in.Source))
	if source == "" {
		return nil, fmt.Errorf("missing source")
	}
	kind, ok := eventKinds[strings.TrimSpace(strings.ToLower(in.Kind))]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", in.Kind)
	}
	externalID := strings.TrimSpace(in.ExternalID)
	if externalID == "" {
		return nil, fmt.Errorf("missing external_id")
	}
	if in.OccurredAt.IsZero() {
		return nil, fmt.Errorf("missing occurred_at")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("bad currency %q", in.Currency)
	}
	amountMinor, err := ParseAmountMinor(in.Amount, currency)
	if err != nil {
		return nil, err
	}
	var feeMinor int64
	if strings.TrimSpace(in.Fee) != "" {
		feeMinor, err = ParseAmountMinor(in.Fee, currency)
		if err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
	}

	ev := &types.RawEvent{
		ID:               uuid.New(),
		CompanyID:        companyID,
		Source:           source,
		Kind:             kind,
		ExternalID:       externalID,
		OccurredAt:       in.OccurredAt.UTC(),
		AmountMinor:      amountMinor,
		FeeMinor:         feeMinor,
		Currency:         currency,
		AccountRef:       strings.TrimSpace(in.AccountRef),
		Counterparty:     strings.TrimSpace(in.Counterparty),
		CategoryHint:     strings.TrimSpace(strings.ToLower(in.CategoryHint)),
		ParentExternalID: strings.TrimSpace(in.ParentExternalID),
		OpsStatus:        strings.TrimSpace(strings.ToLower(in.OpsStatus)),
		ReceivedAt:       time.Now().UTC(),
	}
	if len(in.Payload) > 0 {
		ev.Payload = datatypes.JSON(in.Payload)
	}
	return ev, nil
}
