package booking

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/wondertwin-ai/contractkit/internal/twin/testutil"
	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

func setup(t *testing.T) (*State, *testutil.TwinClient) {
	t.Helper()
	twin, state := NewTwin(twincore.Config{}, nil)
	srv := httptest.NewServer(twin)
	t.Cleanup(srv.Close)
	return state, testutil.NewTwinClient(t, srv)
}

func sampleBooking() map[string]any {
	return map[string]any{
		"firstname":   "Jim",
		"lastname":    "Brown",
		"totalprice":  111,
		"depositpaid": true,
		"bookingdates": map[string]any{
			"checkin":  "2023-06-01",
			"checkout": "2023-06-15",
		},
		"additionalneeds": "Breakfast",
	}
}

func login(t *testing.T, c *testutil.TwinClient) string {
	t.Helper()
	var out struct {
		Token string `json:"token"`
	}
	c.Post("/auth", map[string]string{"username": DefaultUsername, "password": DefaultPassword}).
		AssertStatus(200).JSON(&out)
	if len(out.Token) != TokenLength {
		t.Fatalf("expected %d-char token, got %q", TokenLength, out.Token)
	}
	return out.Token
}

func createBooking(t *testing.T, c *testutil.TwinClient, body map[string]any) int {
	t.Helper()
	var out struct {
		BookingID int            `json:"bookingid"`
		Booking   map[string]any `json:"booking"`
	}
	c.Post("/booking", body).AssertStatus(200).JSON(&out)
	if out.BookingID == 0 {
		t.Fatal("expected booking id")
	}
	return out.BookingID
}

func TestPing(t *testing.T) {
	_, c := setup(t)
	c.Get("/ping").AssertStatus(201).AssertBodyContains("Created")
}

func TestAuth(t *testing.T) {
	state, c := setup(t)

	first := login(t, c)
	second := login(t, c)
	if first == second {
		t.Error("expected distinct tokens")
	}
	if !state.ValidToken(first) {
		t.Error("expected issued token to be valid")
	}

	c.Post("/auth", map[string]string{"username": "admin", "password": "wrong"}).
		AssertStatus(200).AssertBodyContains(`"reason":"Bad credentials"`)
}

func TestCreateAndGet(t *testing.T) {
	_, c := setup(t)
	id := createBooking(t, c, sampleBooking())

	c.Get(fmt.Sprintf("/booking/%d", id)).
		AssertStatus(200).
		AssertJSONPath("$.firstname", "Jim").
		AssertJSONPath("$.totalprice", 111).
		AssertJSONPath("$.depositpaid", true).
		AssertJSONPath("$.bookingdates.checkout", "2023-06-15")

	c.Get("/booking/999").AssertStatus(404).AssertBodyContains("Not Found")
	c.Get("/booking/abc").AssertStatus(404)
}

func TestCreateInvalid(t *testing.T) {
	_, c := setup(t)

	missing := sampleBooking()
	delete(missing, "firstname")
	c.Post("/booking", missing).AssertStatus(500)

	badDate := sampleBooking()
	badDate["bookingdates"] = map[string]any{"checkin": "June 1st", "checkout": "2023-06-15"}
	c.Post("/booking", badDate).AssertStatus(500)

	c.Post("/booking", "not an object").AssertStatus(500)
}

func TestListAndFilter(t *testing.T) {
	_, c := setup(t)
	jim := createBooking(t, c, sampleBooking())

	sally := sampleBooking()
	sally["firstname"] = "Sally"
	sally["bookingdates"] = map[string]any{"checkin": "2024-01-10", "checkout": "2024-01-12"}
	sallyID := createBooking(t, c, sally)

	var all []bookingIDEntry
	c.Get("/booking").AssertStatus(200).JSON(&all)
	if len(all) != 2 || all[0].BookingID != jim || all[1].BookingID != sallyID {
		t.Errorf("unexpected list: %+v", all)
	}

	var byName []bookingIDEntry
	c.Get("/booking?firstname=Sally&lastname=Brown").AssertStatus(200).JSON(&byName)
	if len(byName) != 1 || byName[0].BookingID != sallyID {
		t.Errorf("unexpected name filter: %+v", byName)
	}

	var byDate []bookingIDEntry
	c.Get("/booking?checkin=2024-01-01").AssertStatus(200).JSON(&byDate)
	if len(byDate) != 1 || byDate[0].BookingID != sallyID {
		t.Errorf("unexpected date filter: %+v", byDate)
	}

	c.Get("/booking?firstname=Nobody").AssertStatus(200).AssertBodyContains("[]")
}

func TestUpdateRequiresAuth(t *testing.T) {
	_, c := setup(t)
	id := createBooking(t, c, sampleBooking())
	path := fmt.Sprintf("/booking/%d", id)

	c.Put(path, sampleBooking()).AssertStatus(403).AssertBodyContains("Forbidden")
	c.Do("PATCH", path, map[string]any{"firstname": "X"}, map[string]string{"Cookie": "token=bogus"}).AssertStatus(403)
	c.Delete(path).AssertStatus(403)
}

func TestUpdate(t *testing.T) {
	_, c := setup(t)
	token := login(t, c)
	id := createBooking(t, c, map[string]any{
		"firstname":    "Sally",
		"lastname":     "Jones",
		"totalprice":   50,
		"bookingdates": map[string]any{"checkin": "2023-01-01", "checkout": "2023-01-02"},
	})
	authed := c.WithCookie("token", token)

	updated := authed.Put(fmt.Sprintf("/booking/%d", id), sampleBooking()).AssertStatus(200).JSONMap()
	if updated["firstname"] != "Jim" || updated["additionalneeds"] != "Breakfast" {
		t.Errorf("unexpected update: %+v", updated)
	}

	authed.Put("/booking/999", sampleBooking()).AssertStatus(405)

	invalid := sampleBooking()
	delete(invalid, "lastname")
	authed.Put(fmt.Sprintf("/booking/%d", id), invalid).AssertStatus(400)
}

func TestUpdateWithBasicAuth(t *testing.T) {
	_, c := setup(t)
	id := createBooking(t, c, sampleBooking())

	basic := c.WithAuthorization("Basic", "YWRtaW46cGFzc3dvcmQxMjM=")
	basic.Put(fmt.Sprintf("/booking/%d", id), sampleBooking()).AssertStatus(200)
}

func TestPartialUpdate(t *testing.T) {
	_, c := setup(t)
	token := login(t, c)
	id := createBooking(t, c, sampleBooking())
	authed := c.WithCookie("token", token)
	path := fmt.Sprintf("/booking/%d", id)

	patched := authed.Patch(path, map[string]any{
		"firstname":    "Sim",
		"lastname":     "Son",
		"totalprice":   333,
		"depositpaid":  false,
		"bookingdates": map[string]any{"checkout": "2023-07-01"},
	}).AssertStatus(200).JSONMap()

	if patched["firstname"] != "Sim" || patched["totalprice"] != float64(333) || patched["depositpaid"] != false {
		t.Errorf("unexpected patch: %+v", patched)
	}
	if patched["additionalneeds"] != "Breakfast" {
		t.Errorf("expected untouched field kept, got %+v", patched)
	}
	dates := patched["bookingdates"].(map[string]any)
	if dates["checkin"] != "2023-06-01" || dates["checkout"] != "2023-07-01" {
		t.Errorf("expected merged dates, got %+v", dates)
	}

	authed.Patch("/booking/999", map[string]any{"firstname": "X"}).AssertStatus(405)
	authed.Patch(path, map[string]any{"totalprice": "lots"}).AssertStatus(400)
}

func TestDelete(t *testing.T) {
	_, c := setup(t)
	token := login(t, c)
	id := createBooking(t, c, sampleBooking())
	authed := c.WithCookie("token", token)
	path := fmt.Sprintf("/booking/%d", id)

	authed.Delete(path).AssertStatus(201).AssertBodyContains("Created")
	c.Get(path).AssertStatus(404).AssertBodyContains("Not Found")
	authed.Delete(path).AssertStatus(405)
}

func TestRevokedTokenRejected(t *testing.T) {
	state, c := setup(t)
	token := login(t, c)
	id := createBooking(t, c, sampleBooking())

	state.RevokeTokens()
	c.Do("DELETE", fmt.Sprintf("/booking/%d", id), nil, map[string]string{"Cookie": "token=" + token}).AssertStatus(403)
}

func TestAdminStateAndReset(t *testing.T) {
	state, c := setup(t)
	state.Seed([]Booking{{
		Firstname:    "Seed",
		Lastname:     "Guest",
		BookingDates: Dates{Checkin: "2023-01-01", Checkout: "2023-01-03"},
	}})
	ac := testutil.NewAdminClient(c)

	id := createBooking(t, c, sampleBooking())
	if id != 2 {
		t.Errorf("expected id after seed to be 2, got %d", id)
	}
	ac.GetState().AssertStatus(200).AssertBodyContains(`"Seed"`).AssertBodyContains(`"Jim"`)

	ac.Reset().AssertStatus(200)
	if state.Bookings.Count() != 1 {
		t.Errorf("expected only the seed after reset, got %d", state.Bookings.Count())
	}

	ac.LoadState(map[string]any{"bookings": map[string]any{
		"7": sampleBooking(),
	}}).AssertStatus(200)
	c.Get("/booking/7").AssertStatus(200).AssertBodyContains("Jim")
	c.Get("/booking/1").AssertStatus(404)

	ac.LoadState(map[string]any{"other": 1}).AssertStatus(400)
}

func TestFaultsSkipPing(t *testing.T) {
	_, c := setup(t)
	ac := testutil.NewAdminClient(c)

	ac.InjectFault("/*", map[string]any{"status_code": 503}).AssertStatus(200)
	c.Get("/ping").AssertStatus(201)
	c.Post("/auth", map[string]string{"username": "admin", "password": "password123"}).AssertStatus(503)

	ac.InjectFault("/booking/*", map[string]any{"status_code": 502, "method": "GET"}).AssertStatus(200)
	c.Get("/booking/1").AssertStatus(502)
}
