package qrpayload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantSeat   *SeatIntent
		wantRoster *RosterIntent
		wantErr    bool
	}{
		{name: "seat", raw: "room=12,seat=A3,academy=1001", wantSeat: &SeatIntent{AcademyID: "1001", Room: "12", Seat: "A3"}},
		{name: "seat any order", raw: "academy=1001,seat=A3,room=12", wantSeat: &SeatIntent{AcademyID: "1001", Room: "12", Seat: "A3"}},
		{name: "seat surrounding whitespace", raw: "  room = 12 , seat=A3,academy=1001\n", wantSeat: &SeatIntent{AcademyID: "1001", Room: "12", Seat: "A3"}},
		{name: "seat unknown key ignored", raw: "room=12,seat=A3,academy=1001,v=2", wantSeat: &SeatIntent{AcademyID: "1001", Room: "12", Seat: "A3"}},
		{name: "seat trailing comma", raw: "room=12,seat=A3,academy=1001,", wantSeat: &SeatIntent{AcademyID: "1001", Room: "12", Seat: "A3"}},
		{name: "seat missing academy", raw: "room=12,seat=A3", wantErr: true},
		{name: "seat empty value", raw: "room=,seat=A3,academy=1001", wantErr: true},
		{name: "seat not key value", raw: "room=12,A3,academy=1001", wantErr: true},
		{name: "seat duplicate key", raw: "room=12,room=13,seat=A3,academy=1001", wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "plain text", raw: "hello", wantErr: true},
		{
			name:       "roster numeric academy",
			raw:        `{"academyNumber":1001,"students":["S1","S2"]}`,
			wantRoster: &RosterIntent{AcademyID: "1001", Students: []string{"S1", "S2"}},
		},
		{
			name:       "roster string academy numeric students",
			raw:        ` {"academyNumber":"1001","students":[7,8]}`,
			wantRoster: &RosterIntent{AcademyID: "1001", Students: []string{"7", "8"}},
		},
		{
			name:       "roster empty list",
			raw:        `{"academyNumber":1001,"students":[]}`,
			wantRoster: &RosterIntent{AcademyID: "1001", Students: []string{}},
		},
		{name: "roster missing students", raw: `{"academyNumber":1001}`, wantErr: true},
		{name: "roster null students", raw: `{"academyNumber":1001,"students":null}`, wantErr: true},
		{name: "roster missing academy", raw: `{"students":["S1"]}`, wantErr: true},
		{name: "roster blank student", raw: `{"academyNumber":1001,"students":["S1",""]}`, wantErr: true},
		{name: "roster bool student", raw: `{"academyNumber":1001,"students":[true]}`, wantErr: true},
		{name: "roster broken json", raw: `{"academyNumber":1001,"students":["S1"`, wantErr: true},
		{name: "roster trailing object", raw: `{"academyNumber":1001,"students":["S1"]}{}`, wantErr: true},
		{name: "roster trailing brace", raw: `{"academyNumber":1001,"students":["S1"]}}`, wantErr: true},
		{name: "roster trailing bracket", raw: `{"academyNumber":1001,"students":["S1"]}]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Fatalf("Decode() error = %v, want ErrMalformedPayload", err)
				}
				return
			}
			require.NoError(t, err)
			switch got.Kind {
			case KindSeat:
				require.NotNil(t, tt.wantSeat, "got seat intent, want roster")
				assert.Nil(t, got.Roster)
				assert.Equal(t, *tt.wantSeat, *got.Seat)
			case KindRoster:
				require.NotNil(t, tt.wantRoster, "got roster intent, want seat")
				assert.Nil(t, got.Seat)
				assert.Equal(t, *tt.wantRoster, *got.Roster)
			default:
				t.Fatalf("Decode() kind = %v", got.Kind)
			}
		})
	}
}

func TestDecodeErrorNamesField(t *testing.T) {
	_, err := Decode("room=12,academy=1001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seat")
}
