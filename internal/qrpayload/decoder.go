// Package qrpayload turns scanned QR text into a typed check-in intent.
//
// Two payload shapes are printed on classroom QR codes:
//
//	room=12,seat=A3,academy=1001                      seat code stuck on a desk
//	{"academyNumber":1001,"students":["S1","S2"]}     roster code shown by the instructor
//
// Decoding is pure: it never looks at the caller and performs no I/O.
package qrpayload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedPayload is wrapped by every decode failure.
var ErrMalformedPayload = errors.New("malformed payload")

// Kind tags which variant an Intent carries.
type Kind int

const (
	KindSeat Kind = iota + 1
	KindRoster
)

func (k Kind) String() string {
	switch k {
	case KindSeat:
		return "seat"
	case KindRoster:
		return "roster"
	default:
		return "unknown"
	}
}

// SeatIntent asks to occupy one labelled seat. The scanning caller supplies the student.
type SeatIntent struct {
	AcademyID string `qr:"academy" validate:"required"`
	Room      string `qr:"room" validate:"required"`
	Seat      string `qr:"seat" validate:"required"`
}

// RosterIntent is the enrolled-student snapshot embedded in a roster code.
// It may be stale relative to the live roster.
type RosterIntent struct {
	AcademyID string   `qr:"academyNumber" validate:"required"`
	Students  []string `qr:"students" validate:"required,dive,required"`
}

// Intent is the decode result. Exactly one of Seat or Roster is set, matching Kind.
type Intent struct {
	Kind   Kind
	Seat   *SeatIntent
	Roster *RosterIntent
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("qr"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Decode detects the payload shape and parses it.
func Decode(raw string) (Intent, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Intent{}, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	if strings.HasPrefix(text, "{") {
		roster, err := decodeRoster(text)
		if err != nil {
			return Intent{}, err
		}
		return Intent{Kind: KindRoster, Roster: &roster}, nil
	}
	seat, err := decodeSeat(text)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Kind: KindSeat, Seat: &seat}, nil
}

func decodeSeat(text string) (SeatIntent, error) {
	fields := make(map[string]string, 3)
	for _, pair := range strings.Split(text, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return SeatIntent{}, fmt.Errorf("%w: %q is not key=value", ErrMalformedPayload, pair)
		}
		key = strings.TrimSpace(key)
		if _, dup := fields[key]; dup {
			return SeatIntent{}, fmt.Errorf("%w: duplicate key %q", ErrMalformedPayload, key)
		}
		fields[key] = strings.TrimSpace(value)
	}
	intent := SeatIntent{
		AcademyID: fields["academy"],
		Room:      fields["room"],
		Seat:      fields["seat"],
	}
	if err := check(intent); err != nil {
		return SeatIntent{}, err
	}
	return intent, nil
}

type rosterDoc struct {
	AcademyNumber idField   `json:"academyNumber"`
	Students      []idField `json:"students"`
}

func decodeRoster(text string) (RosterIntent, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var doc rosterDoc
	if err := dec.Decode(&doc); err != nil {
		return RosterIntent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return RosterIntent{}, fmt.Errorf("%w: trailing data after roster object", ErrMalformedPayload)
	}
	intent := RosterIntent{AcademyID: string(doc.AcademyNumber)}
	if doc.Students != nil {
		intent.Students = make([]string, len(doc.Students))
		for i, s := range doc.Students {
			intent.Students[i] = string(s)
		}
	}
	if err := check(intent); err != nil {
		return RosterIntent{}, err
	}
	return intent, nil
}

func check(intent any) error {
	err := validate.Struct(intent)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedPayload, fieldErrs[0].Field())
	}
	return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
}

// idField accepts ids printed either as JSON strings or as bare numbers.
type idField string

func (f *idField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = idField(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", b)
	}
	*f = idField(n.String())
	return nil
}
