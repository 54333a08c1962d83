// Package booking is the scenario catalog for restful-booker shaped booking APIs.
package booking

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
	"github.com/wondertwin-ai/contractkit/internal/scenario"
)

// Target is the default target and session name of the catalog.
const Target = "booking"

// Schema names registered by Schemas.
const (
	SchemaBooking      = "booking"
	SchemaBookingPatch = "booking-patch"
)

// MaxTotalPrice bounds generated prices.
const MaxTotalPrice = 999

// Dates is a stay as sent on the wire.
type Dates struct {
	Checkin  string `json:"checkin" validate:"required,datetime=2006-01-02"`
	Checkout string `json:"checkout" validate:"required,datetime=2006-01-02"`
}

// Booking is a booking payload. Decode a fixture into it to check it.
type Booking struct {
	Firstname       string `json:"firstname" validate:"required"`
	Lastname        string `json:"lastname" validate:"required"`
	TotalPrice      int    `json:"totalprice" validate:"gte=0,lte=999"`
	DepositPaid     bool   `json:"depositpaid"`
	BookingDates    Dates  `json:"bookingdates"`
	AdditionalNeeds string `json:"additionalneeds" validate:"required"`
}

func init() {
	fixture.RegisterStructValidation(validateDates, Dates{})
}

// validateDates requires checkout to fall strictly after checkin.
func validateDates(sl validator.StructLevel) {
	d := sl.Current().Interface().(Dates)
	in, err1 := time.Parse(fixture.DefaultDateLayout, d.Checkin)
	out, err2 := time.Parse(fixture.DefaultDateLayout, d.Checkout)
	if err1 != nil || err2 != nil {
		return // reported by the datetime tags
	}
	if !out.After(in) {
		sl.ReportError(d.Checkout, "checkout", "Checkout", "checkout_after_checkin", "")
	}
}

// Decode converts f into a Booking and validates it.
func Decode(f fixture.Fixture) (Booking, error) {
	var b Booking
	err := fixture.Decode(f, &b)
	return b, err
}

func checkBooking(f fixture.Fixture) error {
	_, err := Decode(f)
	return err
}

func bookingFields() []fixture.Field {
	return []fixture.Field{
		{Name: "firstname", Kind: fixture.KindFirstName},
		{Name: "lastname", Kind: fixture.KindLastName},
		{Name: "totalprice", Kind: fixture.KindInt, Min: 0, Max: MaxTotalPrice},
		{Name: "depositpaid", Kind: fixture.KindBool},
		{Name: "bookingdates", Kind: fixture.KindObject, Fields: []fixture.Field{
			{Name: "checkin", Kind: fixture.KindDate, Min: 0, Max: 30},
			{Name: "checkout", Kind: fixture.KindDateAfter, After: "checkin", Min: 1, Max: 14},
		}},
		{Name: "additionalneeds", Kind: fixture.KindNoun},
	}
}

// Schemas returns the fixture schemas the catalog's scenarios reference.
func Schemas() []fixture.Schema {
	return []fixture.Schema{
		{Name: SchemaBooking, Fields: bookingFields(), Check: checkBooking},
		{Name: SchemaBookingPatch, Fields: []fixture.Field{
			{Name: "firstname", Kind: fixture.KindFirstName},
			{Name: "lastname", Kind: fixture.KindLastName},
			{Name: "totalprice", Kind: fixture.KindInt, Min: 0, Max: MaxTotalPrice},
			{Name: "depositpaid", Kind: fixture.KindBool},
		}},
	}
}

func login() scenario.Step {
	return scenario.Step{
		Name: "create token",
		Request: scenario.Request{
			Method: "POST",
			URL:    "/auth",
			Body:   map[string]any{"username": "{{username}}", "password": "{{password}}"},
		},
		Expect: &scenario.Expect{
			Status: 200,
			Fields: []string{"$.token"},
			Body:   map[string]any{"$.token": map[string]any{"len": 15}},
		},
	}
}

func create() scenario.Step {
	return scenario.Step{
		Name:    "create booking",
		Request: scenario.Request{Method: "POST", URL: "/booking", Body: "{{fixture.booking}}"},
		Capture: map[string]string{"bookingid": "$.bookingid"},
		Expect: &scenario.Expect{
			Status: 200,
			Body:   map[string]any{"$.bookingid": map[string]any{"gt": 0}},
			Subset: map[string]any{"$.booking": "{{fixture.booking}}"},
		},
	}
}

func get(name, fixtureName string) scenario.Step {
	return scenario.Step{
		Name:    name,
		Request: scenario.Request{Method: "GET", URL: "/booking/{{bookingid}}"},
		Expect: &scenario.Expect{
			Status: 200,
			Body:   map[string]any{"$": "{{fixture." + fixtureName + "}}"},
		},
	}
}

// Scenarios returns the booking catalog. Scenarios call Target, authenticate
// through the session of the same name, and read the login payload from the
// target variables "username" and "password".
func Scenarios() []*scenario.Scenario {
	tags := func(extra ...string) []string { return append([]string{"booking"}, extra...) }

	return []*scenario.Scenario{
		{
			Name:        "booking-auth",
			Description: "two logins with the same credentials both return a 15-character token",
			Target:      Target,
			Tags:        tags("auth"),
			Steps:       []scenario.Step{login(), login()},
		},
		{
			Name:        "booking-auth-bad-credentials",
			Description: "a wrong password returns no token",
			Target:      Target,
			Tags:        tags("auth", "negative"),
			Steps: []scenario.Step{{
				Name: "create token with wrong password",
				Request: scenario.Request{
					Method: "POST",
					URL:    "/auth",
					Body:   map[string]any{"username": "{{username}}", "password": "not-the-password"},
				},
				Expect: &scenario.Expect{
					Status: 200,
					Body: map[string]any{
						"$.token":  map[string]any{"exists": false},
						"$.reason": "Bad credentials",
					},
				},
			}},
		},
		{
			Name:        "booking-create-read",
			Description: "a created booking is listed and reads back unchanged",
			Target:      Target,
			Tags:        tags("crud", "smoke"),
			Fixtures:    map[string]string{"booking": SchemaBooking},
			Steps: []scenario.Step{
				create(),
				{
					Name:    "list bookings",
					Request: scenario.Request{Method: "GET", URL: "/booking"},
					Expect: &scenario.Expect{
						Status:   200,
						Contains: []scenario.Membership{{Path: "$", Item: map[string]any{"bookingid": "{{bookingid}}"}}},
					},
				},
				get("get booking", "booking"),
			},
		},
		{
			Name:        "booking-get-with-parameters",
			Description: "filtering by name finds the created booking",
			Target:      Target,
			Tags:        tags("crud"),
			Fixtures:    map[string]string{"booking": SchemaBooking},
			Steps: []scenario.Step{
				create(),
				{
					Name: "list bookings by name",
					Request: scenario.Request{
						Method: "GET",
						URL:    "/booking",
						Query: map[string]string{
							"firstname": "{{fixture.booking.firstname}}",
							"lastname":  "{{fixture.booking.lastname}}",
						},
					},
					Expect: &scenario.Expect{
						Status:   200,
						Contains: []scenario.Membership{{Path: "$", Item: map[string]any{"bookingid": "{{bookingid}}"}}},
					},
				},
			},
		},
		{
			Name:        "booking-update",
			Description: "a full update replaces every field",
			Target:      Target,
			Tags:        tags("crud"),
			Fixtures:    map[string]string{"booking": SchemaBooking, "replacement": SchemaBooking},
			Steps: []scenario.Step{
				create(),
				{
					Name:    "update booking",
					Auth:    Target,
					Request: scenario.Request{Method: "PUT", URL: "/booking/{{bookingid}}", Body: "{{fixture.replacement}}"},
					Expect: &scenario.Expect{
						Status: 200,
						Subset: map[string]any{"$": "{{fixture.replacement}}"},
					},
				},
				get("get updated booking", "replacement"),
			},
		},
		{
			Name:        "booking-partial-update",
			Description: "a partial update changes only the submitted fields",
			Target:      Target,
			Tags:        tags("crud"),
			Fixtures:    map[string]string{"booking": SchemaBooking, "patch": SchemaBookingPatch},
			Steps: []scenario.Step{
				create(),
				{
					Name:    "partially update booking",
					Auth:    Target,
					Request: scenario.Request{Method: "PATCH", URL: "/booking/{{bookingid}}", Body: "{{fixture.patch}}"},
					Expect: &scenario.Expect{
						Status: 200,
						Subset: map[string]any{"$": "{{fixture.patch}}"},
						Body: map[string]any{
							"$.bookingdates.checkin":  "{{fixture.booking.bookingdates.checkin}}",
							"$.bookingdates.checkout": "{{fixture.booking.bookingdates.checkout}}",
							"$.additionalneeds":       "{{fixture.booking.additionalneeds}}",
						},
					},
				},
			},
		},
		{
			Name:        "booking-delete",
			Description: "a deleted booking is gone and cannot be deleted twice",
			Target:      Target,
			Tags:        tags("crud"),
			Fixtures:    map[string]string{"booking": SchemaBooking},
			Steps: []scenario.Step{
				create(),
				{
					Name:    "delete booking",
					Auth:    Target,
					Request: scenario.Request{Method: "DELETE", URL: "/booking/{{bookingid}}"},
					Expect:  &scenario.Expect{Status: 201},
				},
				{
					Name:    "get deleted booking",
					Request: scenario.Request{Method: "GET", URL: "/booking/{{bookingid}}"},
					Expect:  &scenario.Expect{Status: 404, StatusText: "Not Found"},
				},
				{
					Name:    "delete booking again",
					Auth:    Target,
					Request: scenario.Request{Method: "DELETE", URL: "/booking/{{bookingid}}"},
					Expect:  &scenario.Expect{Success: scenario.Bool(false)},
				},
			},
		},
		{
			Name:        "booking-update-requires-auth",
			Description: "an update without a credential is forbidden",
			Target:      Target,
			Tags:        tags("negative"),
			Fixtures:    map[string]string{"booking": SchemaBooking},
			Steps: []scenario.Step{
				create(),
				{
					Name:    "update booking without token",
					Request: scenario.Request{Method: "PUT", URL: "/booking/{{bookingid}}", Body: "{{fixture.booking}}"},
					Expect:  &scenario.Expect{Status: 403},
				},
			},
		},
	}
}
