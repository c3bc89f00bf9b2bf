package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

func TestInput_Validate(t *testing.T) {
	valid := func() Input { return input(2) }

	tests := []struct {
		name    string
		mutate  func(*Input)
		wantErr string
	}{
		{name: "valid", mutate: func(*Input) {}},
		{name: "missing display name", mutate: func(in *Input) { in.DisplayName = "  " }, wantErr: "display_name"},
		{name: "zero count", mutate: func(in *Input) { in.ReservedCount = 0 }, wantErr: "reserved_count"},
		{name: "negative amount", mutate: func(in *Input) { in.AmountCents = -5 }, wantErr: "amount_cents"},
		{name: "missing date", mutate: func(in *Input) { in.ReservationDate = time.Time{} }, wantErr: "reservation_date"},
		{name: "unknown status", mutate: func(in *Input) { in.Status = "HELD" }, wantErr: "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			err := in.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInput_ValidateNormalizes(t *testing.T) {
	loc := time.FixedZone("IRST", 3*3600+1800)
	in := input(1)
	in.Status = " pending "
	in.DisplayName = " Ann "
	in.ReservationDate = time.Date(2026, 6, 1, 10, 0, 0, 999, loc)

	require.NoError(t, in.Validate())
	assert.Equal(t, model.ReservationPending, in.Status)
	assert.Equal(t, "Ann", in.DisplayName)
	assert.Equal(t, time.UTC, in.ReservationDate.Location())
	assert.Equal(t, 0, in.ReservationDate.Nanosecond()%1000)

	empty := input(1)
	require.NoError(t, empty.Validate())
	assert.Empty(t, empty.Status)
	assert.Equal(t, model.ReservationReserved, empty.statusOr(model.ReservationReserved))
	assert.Equal(t, model.ReservationPending, in.statusOr(model.ReservationReserved))
}
