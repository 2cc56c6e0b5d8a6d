// Package identity collapses raw events onto canonical identities. Two
// observations of the same economic object (a webhook push and a later poll,
// a bank line and a processor record) must land on the same identity row;
// the fingerprint is the only mechanism that makes that happen.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	types "github.com/eddyhq/eddy-backend/internal/domain"
)

// Descriptor tokens banks inject around the actual counterparty name.
// Dropping them keeps "ACME CORP DES:PAYROLL ID:12345 PPD" and
// "ACME CORP PAYROLL 882190" on the same fingerprint.
var noiseTokens = map[string]bool{
	"ACH":   true,
	"PPD":   true,
	"CCD":   true,
	"WEB":   true,
	"TEL":   true,
	"DES":   true,
	"ID":    true,
	"INDN":  true,
	"TRN":   true,
	"REF":   true,
	"ORIG":  true,
	"CO":    true,
	"ENTRY": true,
	"DESCR": true,
	"PMT":   true,
	"XFER":  true,
	"EFT":   true,
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeCounterparty reduces a bank descriptor to the tokens that
// identify who the money moved with. Uppercases, splits on whitespace and
// punctuation, drops descriptor noise and digit runs (trace numbers, dates).
func NormalizeCounterparty(raw string) string {
	upper := strings.ToUpper(raw)
	fields := strings.FieldsFunc(upper, func(r rune) bool {
		isLetter := r >= 'A' && r <= 'Z'
		isDigit := r >= '0' && r <= '9'
		return !isLetter && !isDigit
	})
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if isDigits(f) {
			continue
		}
		if noiseTokens[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func writeField(h hash.Hash, field string) {
	h.Write([]byte(strconv.Itoa(len(field))))
	h.Write([]byte(":"))
	h.Write([]byte(field))
}

func fingerprintOf(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		writeField(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalKind maps a raw event onto its identity kind. Balance
// transactions carry their line type (charge, refund, fee) in the category
// hint set by the connector.
func CanonicalKind(ev *types.RawEvent) (types.IdentityKind, error) {
	switch ev.Kind {
	case types.EventKindBankTransaction:
		return types.IdentitySettlement, nil
	case types.EventKindPayout:
		return types.IdentityPayout, nil
	case types.EventKindBalanceTransaction:
		switch strings.TrimSpace(strings.ToLower(ev.CategoryHint)) {
		case "charge", "payment":
			return types.IdentityCharge, nil
		case "refund", "payment_refund":
			return types.IdentityRefund, nil
		case "fee", "stripe_fee", "application_fee":
			return types.IdentityFee, nil
		default:
			return "", fmt.Errorf("unknown balance transaction type %q", ev.CategoryHint)
		}
	case types.EventKindOpsPayment:
		return types.IdentityOpsPayment, nil
	case types.EventKindOpsInvoice:
		return types.IdentityOpsInvoice, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// Fingerprint computes the canonical identity hash for a raw event.
// Settlements hash their observable shape (account, amount, day,
// counterparty) because bank descriptions are unstable; everything with a
// provider-native id hashes that id.
func Fingerprint(kind types.IdentityKind, ev *types.RawEvent) string {
	if kind == types.IdentitySettlement {
		amount := ev.AmountMinor
		if amount < 0 {
			amount = -amount
		}
		return fingerprintOf(
			string(kind),
			ev.AccountRef,
			strconv.FormatInt(amount, 10),
			ev.OccurredAt.UTC().Format("2006-01-02"),
			NormalizeCounterparty(ev.Counterparty),
		)
	}
	// Everything else carries an authoritative provider-native id. Balance
	// transaction lines fold their type in through the kind.
	return RefFingerprint(kind, ev.Source, ev.ExternalID)
}

// RefFingerprint is the fingerprint an identity of a provider-id kind would
// carry, computed from a native reference alone. Linker passes use it to
// chase explicit cross-references without a raw event in hand.
func RefFingerprint(kind types.IdentityKind, provider, nativeID string) string {
	return fingerprintOf(string(kind), provider, nativeID)
}

// LinkReason describes how a raw event was matched to its identity.
func LinkReason(kind types.IdentityKind) (confidence float64, reason string) {
	if kind == types.IdentitySettlement {
		return 0.95, "amount+date+account fingerprint"
	}
	return 1.0, "exact-id-match"
}
