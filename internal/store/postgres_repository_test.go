package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type fakeRow struct {
	values []any
	err    error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	if len(dest) != len(f.values) {
		return errors.New("column count mismatch")
	}
	for i, v := range f.values {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = v.(uuid.UUID)
		case *string:
			*d = v.(string)
		case **string:
			if v == nil {
				*d = nil
			} else {
				s := v.(string)
				*d = &s
			}
		case **int:
			if v == nil {
				*d = nil
			} else {
				n := v.(int)
				*d = &n
			}
		case **time.Time:
			if v == nil {
				*d = nil
			} else {
				t := v.(time.Time)
				*d = &t
			}
		case **bool:
			if v == nil {
				*d = nil
			} else {
				b := v.(bool)
				*d = &b
			}
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		case *[]byte:
			if v != nil {
				*d = v.([]byte)
			}
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func subscriptionRow(cardBrand any, lastFour any) fakeRow {
	now := time.Now()
	return fakeRow{values: []any{
		uuid.New(), uuid.New(), "pro", "monthly", "active", nil, nil,
		nil, nil, nil,
		cardBrand, lastFour, "MARIA SILVA", 12, 2030, now,
		true, int64(3), now, now,
	}}
}

func TestScanSubscription_BuildsCardWhenBrandAndLastFourPresent(t *testing.T) {
	sub, err := scanSubscription(subscriptionRow("visa", "4242"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if sub.Card == nil {
		t.Fatal("expected card to be populated")
	}
	if sub.Card.Brand != "visa" || sub.Card.LastFour != "4242" || sub.Card.ExpirationYear != 2030 {
		t.Fatalf("unexpected card %+v", sub.Card)
	}
	if sub.NoCharge == nil || !*sub.NoCharge {
		t.Fatal("expected no_charge flag to be scanned")
	}
	if sub.Version != 3 {
		t.Fatalf("expected version 3, got %d", sub.Version)
	}
}

func TestScanSubscription_LeavesCardNilWithoutCardOnFile(t *testing.T) {
	sub, err := scanSubscription(subscriptionRow(nil, nil))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if sub.Card != nil {
		t.Fatalf("expected nil card, got %+v", sub.Card)
	}
}

func TestScanPayment_KeepsEmptyGatewayResponseNil(t *testing.T) {
	now := time.Now()
	row := fakeRow{values: []any{
		uuid.New(), uuid.New(), uuid.New(), "mercadopago", "123", "pending", "pix", int64(4990), "BRL",
		nil, nil, nil, int64(1), now, now,
	}}
	p, err := scanPayment(row)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if p.GatewayResponse != nil {
		t.Fatalf("expected nil gateway response, got %s", p.GatewayResponse)
	}
	if !p.HasGatewayID() {
		t.Fatal("expected gateway id to be present")
	}
}

func TestNullableJSON(t *testing.T) {
	if got := nullableJSON(nil); got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
	if got := nullableJSON([]byte{}); got != nil {
		t.Fatalf("expected nil for empty payload, got %q", *got)
	}
	got := nullableJSON([]byte(`{"a":1}`))
	if got == nil || *got != `{"a":1}` {
		t.Fatalf("expected payload to pass through as text, got %v", got)
	}
}

func TestNullableJSON_EncodesAsTextNotBytea(t *testing.T) {
	arg := nullableJSON([]byte(`{"status":"paid"}`))
	if arg == nil {
		t.Fatal("expected a non-nil argument")
	}

	encoded, err := pgtype.NewMap().Encode(0, pgtype.TextFormatCode, *arg, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(encoded) != `{"status":"paid"}` {
		t.Fatalf("expected the JSON text to reach postgres unchanged, got %q", encoded)
	}
}
