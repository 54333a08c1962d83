package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
)

func registry(t *testing.T) *fixture.Registry {
	t.Helper()
	reg := fixture.NewRegistry()
	for _, s := range Schemas() {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

func TestGeneratedBookingsAreValid(t *testing.T) {
	schema, err := registry(t).Get(SchemaBooking)
	require.NoError(t, err)
	g := fixture.NewGenerator()

	for range 200 {
		f, err := g.Generate(schema)
		require.NoError(t, err)
		b, err := Decode(f)
		require.NoError(t, err)

		in, err := time.Parse(fixture.DefaultDateLayout, b.BookingDates.Checkin)
		require.NoError(t, err)
		out, err := time.Parse(fixture.DefaultDateLayout, b.BookingDates.Checkout)
		require.NoError(t, err)
		assert.True(t, out.After(in), "checkout %s not after checkin %s", b.BookingDates.Checkout, b.BookingDates.Checkin)
		assert.GreaterOrEqual(t, b.TotalPrice, 0)
		assert.LessOrEqual(t, b.TotalPrice, MaxTotalPrice)
		assert.NotEmpty(t, b.Firstname)
		assert.NotEmpty(t, b.AdditionalNeeds)
	}
}

func TestBookingCheckRejectsBrokenFields(t *testing.T) {
	schema, err := registry(t).Get(SchemaBooking)
	require.NoError(t, err)
	for i, f := range schema.Fields {
		if f.Name == "totalprice" {
			schema.Fields[i] = fixture.Field{Name: "totalprice", Kind: fixture.KindConst, Value: 1500}
		}
	}

	_, err = fixture.NewGenerator().Generate(schema)
	var se *fixture.SchemaError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Contains(t, se.Reason, "totalprice")
}

func TestDecodeRejectsCheckoutBeforeCheckin(t *testing.T) {
	f, err := fixture.NewGenerator().Generate(fixture.Schema{Name: SchemaBooking, Fields: []fixture.Field{
		{Name: "firstname", Kind: fixture.KindConst, Value: "Jim"},
		{Name: "lastname", Kind: fixture.KindConst, Value: "Brown"},
		{Name: "totalprice", Kind: fixture.KindConst, Value: 111},
		{Name: "bookingdates", Kind: fixture.KindConst, Value: map[string]any{"checkin": "2024-05-02", "checkout": "2024-05-01"}},
		{Name: "additionalneeds", Kind: fixture.KindConst, Value: "Breakfast"},
	}})
	require.NoError(t, err)

	_, err = Decode(f)
	assert.ErrorContains(t, err, "checkout_after_checkin")
}
