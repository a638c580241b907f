package ride

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/geo"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Assignment
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, a models.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.RideEvent
}

func (f *fakeEvents) Publish(_ context.Context, ev models.RideEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

type fakeMirror struct {
	mu        sync.Mutex
	positions map[string]geo.Position
}

func (f *fakeMirror) Upsert(_ context.Context, p geo.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positions == nil {
		f.positions = make(map[string]geo.Position)
	}
	f.positions[p.ID] = p
	return nil
}

type harness struct {
	svc      *Service
	clock    *fakeClock
	notifier *fakeNotifier
	events   *fakeEvents
	mirror   *fakeMirror
	store    *storage.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		mirror:   &fakeMirror{},
		store:    storage.NewMemoryStore(),
	}
	h.svc = NewService(DefaultConfig(), Deps{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: h.notifier,
		Events:   h.events,
		Mirror:   h.mirror,
		Store:    h.store,
		Now:      h.clock.Now,
	})
	return h
}

func (h *harness) driver(t *testing.T, name string, lat, lon float64) *models.Driver {
	t.Helper()
	d := models.NewDriver(name, "555", geo.MustCoordinate(lat, lon), models.NewVehicle("Toyota", "Corolla", name))
	if err := h.svc.AddDriver(context.Background(), d); err != nil {
		t.Fatalf("add driver: %v", err)
	}
	return d
}

func (h *harness) passenger(t *testing.T, name string, lat, lon float64) *models.Passenger {
	t.Helper()
	p := models.NewPassenger(name, "555", geo.MustCoordinate(lat, lon))
	if err := h.svc.AddPassenger(p); err != nil {
		t.Fatalf("add passenger: %v", err)
	}
	return p
}

func TestRequestRideRejectsIdenticalLocations(t *testing.T) {
	h := newHarness(t)
	p := h.passenger(t, "Emirhan", 41.0345, 29.0)

	same := geo.MustCoordinate(41.0345, 29.0)
	if _, err := h.svc.RequestRide(p.ID, same, same); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(h.svc.Requests()) != 0 {
		t.Fatal("rejected request must not be stored")
	}

	req, err := h.svc.RequestRide(p.ID, same, geo.MustCoordinate(41.0345, 29.0001))
	if err != nil {
		t.Fatalf("longitude-only difference should succeed: %v", err)
	}
	if req.Status != models.RequestPending || req.PassengerID != p.ID {
		t.Fatalf("unexpected request %+v", req)
	}
	if !req.CreatedAt.Equal(h.clock.Now()) {
		t.Fatalf("expected creation time from clock, got %s", req.CreatedAt)
	}
}

func TestRequestRideUnknownPassenger(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RequestRide("ghost", geo.MustCoordinate(0, 0), geo.MustCoordinate(0, 1))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRideNoDriverMutatesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.passenger(t, "P", 0, 0)
	req, err := h.svc.RequestRide(p.ID, geo.MustCoordinate(0, 0), geo.MustCoordinate(0, 0.1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.AssignRide(context.Background(), req.ID); !errors.Is(err, ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable with no drivers, got %v", err)
	}

	busy := h.driver(t, "busy", 0, 0)
	busy.Available = false
	if _, err := h.svc.AssignRide(context.Background(), req.ID); !errors.Is(err, ErrNoDriverAvailable) {
		t.Fatalf("expected ErrNoDriverAvailable with busy drivers, got %v", err)
	}

	if n := len(h.svc.Rides()); n != 0 {
		t.Fatalf("expected no rides, got %d", n)
	}
	if req.Status != models.RequestPending {
		t.Fatalf("request status changed to %s", req.Status)
	}
	if len(h.notifier.sent) != 0 || len(h.events.events) != 0 {
		t.Fatal("no notification or event expected on failed assignment")
	}
}

func TestAssignRideSelectsNearestDriver(t *testing.T) {
	h := newHarness(t)
	far := h.driver(t, "far", 0.045, 0)   // ~5 km from pickup
	near := h.driver(t, "near", 0.009, 0) // ~1 km from pickup
	p := h.passenger(t, "P", 0, 0)

	req, _ := h.svc.RequestRide(p.ID, geo.MustCoordinate(0, 0), geo.MustCoordinate(0.05, 0.05))
	r, err := h.svc.AssignRide(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if r.DriverID != near.ID {
		t.Fatalf("expected near driver, got %s", r.DriverID)
	}
	if near.Available || !far.Available {
		t.Fatal("only the matched driver should become unavailable")
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].DriverID != near.ID {
		t.Fatalf("expected notification for near driver, got %+v", h.notifier.sent)
	}
	if math.Abs(h.notifier.sent[0].PickupDistanceKm-1.0) > 0.01 {
		t.Fatalf("unexpected pickup distance %f", h.notifier.sent[0].PickupDistanceKm)
	}
}

func TestAssignRideRejectsAssignedRequest(t *testing.T) {
	h := newHarness(t)
	h.driver(t, "a", 0, 0)
	h.driver(t, "b", 0, 0)
	p := h.passenger(t, "P", 0, 0)
	req, _ := h.svc.RequestRide(p.ID, geo.MustCoordinate(0, 0), geo.MustCoordinate(0, 0.1))
	if _, err := h.svc.AssignRide(context.Background(), req.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.AssignRide(context.Background(), req.ID); !errors.Is(err, ErrRequestNotPending) {
		t.Fatalf("expected ErrRequestNotPending, got %v", err)
	}
	if _, err := h.svc.AssignRide(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRideLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	d := h.driver(t, "Ahmet Yilmaz", 41.0082, 28.9784)
	p := h.passenger(t, "Emirhan Kuluk", 41.0345, 29.0000)
	pickup := geo.MustCoordinate(41.0345, 29.0000)
	dropoff := geo.MustCoordinate(40.9850, 29.0596)

	req, err := h.svc.RequestRide(p.ID, pickup, dropoff)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	h.clock.Advance(time.Minute)
	r, err := h.svc.AssignRide(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if r.Status != models.RideInProgress || r.EndTime != nil {
		t.Fatalf("expected in-progress ride, got %+v", r)
	}
	if d.Available {
		t.Fatal("driver should be unavailable after assignment")
	}
	if req.Status != models.RequestAssigned {
		t.Fatalf("expected request Assigned, got %s", req.Status)
	}
	wantDist := geo.Distance(pickup, dropoff)
	if r.EstimatedDistance != wantDist {
		t.Fatalf("estimated distance %f, want %f", r.EstimatedDistance, wantDist)
	}
	if want := fare.NewEstimator(fare.DefaultConfig()).Estimate(wantDist); r.Fare != want {
		t.Fatalf("fare %f, want %f", r.Fare, want)
	}

	h.clock.Advance(25 * time.Minute)
	if err := h.svc.CompleteRide(context.Background(), r.ID, 4.9, 11.2, 18.50); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != models.RideCompleted || r.EndTime == nil {
		t.Fatalf("expected completed ride, got %+v", r)
	}
	if r.Duration() != 25*time.Minute {
		t.Fatalf("unexpected duration %s", r.Duration())
	}
	if !d.Available {
		t.Fatal("driver should be available after completion")
	}
	if d.Rating >= models.DefaultRating || d.Rating != 4.9 {
		t.Fatalf("expected rating moved to 4.9, got %f", d.Rating)
	}
	if d.Earnings != 18.50 || d.TotalRides != 1 {
		t.Fatalf("unexpected earnings=%f rides=%d", d.Earnings, d.TotalRides)
	}
	if math.Abs(d.Vehicle.Mileage()-11.2) > 1e-9 {
		t.Fatalf("expected mileage 11.2, got %f", d.Vehicle.Mileage())
	}
	if !d.Location.Equal(dropoff) {
		t.Fatalf("driver should be at dropoff, got %v", d.Location)
	}
	if p.TotalRides != 1 {
		t.Fatalf("expected passenger trip count 1, got %d", p.TotalRides)
	}

	if len(h.events.events) != 2 || h.events.events[0].Type != models.EventRideAssigned || h.events.events[1].Type != models.EventRideCompleted {
		t.Fatalf("unexpected events %+v", h.events.events)
	}
	if pos := h.mirror.positions[d.ID]; !pos.Available || !pos.Loc.Equal(dropoff) {
		t.Fatalf("mirror not updated after completion: %+v", pos)
	}

	// Lookups return the same shared driver.
	got, err := h.svc.Driver(d.ID)
	if err != nil || got != d {
		t.Fatalf("expected shared driver pointer, got %p err=%v", got, err)
	}
}

func TestCompleteRideTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	d := h.driver(t, "D", 0, 0)
	p := h.passenger(t, "P", 0, 0)
	req, _ := h.svc.RequestRide(p.ID, geo.MustCoordinate(0, 0), geo.MustCoordinate(0, 0.1))
	r, err := h.svc.AssignRide(context.Background(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.svc.CompleteRide(context.Background(), r.ID, 4.0, 10, 10); err != nil {
		t.Fatal(err)
	}
	err = h.svc.CompleteRide(context.Background(), r.ID, 1.0, 10, 10)
	if !errors.Is(err, ErrRideAlreadyCompleted) {
		t.Fatalf("expected ErrRideAlreadyCompleted, got %v", err)
	}
	if d.TotalRides != 1 || d.Earnings != 10 || d.Rating != 4.0 || p.TotalRides != 1 || d.Vehicle.Mileage() != 10 {
		t.Fatalf("statistics double-counted: driver=%+v passenger=%+v", d, p)
	}
}

func TestCompleteRideValidatesInput(t *testing.T) {
	h := newHarness(t)
	h.driver(t, "D", 0, 0)
	p := h.passenger(t, "P", 0, 0)
	req, _ := h.svc.RequestRide(p.ID, geo.MustCoordinate(0, 0), geo.MustCoordinate(0, 0.1))
	r, _ := h.svc.AssignRide(context.Background(), req.ID)

	for _, tc := range []struct {
		rating, dist, fare float64
	}{
		{5.1, 1, 1},
		{-0.1, 1, 1},
		{4, -1, 1},
		{4, 1, -1},
		{math.NaN(), 1, 1},
		{4, math.Inf(1), 1},
		{4, 1, math.NaN()},
		{4, math.NaN(), math.Inf(-1)},
	} {
		if err := h.svc.CompleteRide(context.Background(), r.ID, tc.rating, tc.dist, tc.fare); !errors.Is(err, ErrInvalidCompletion) {
			t.Errorf("CompleteRide(%v, %v, %v) = %v, want ErrInvalidCompletion", tc.rating, tc.dist, tc.fare, err)
		}
	}
	if r.Status != models.RideInProgress {
		t.Fatal("invalid completion must not change the ride")
	}
	d, _ := h.svc.Driver(r.DriverID)
	if d.Rating != models.DefaultRating || d.Earnings != 0 || d.Vehicle.Mileage() != 0 || d.TotalRides != 0 {
		t.Fatalf("invalid completion leaked into driver stats: %+v mileage=%v", d, d.Vehicle.Mileage())
	}
	if err := h.svc.CompleteRide(context.Background(), "missing", 4, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// completeRide runs one request through assignment and completion with the
// only available driver.
func (h *harness) completeRide(t *testing.T, p *models.Passenger, d *models.Driver, dropLat float64, rating float64, dur time.Duration) *models.Ride {
	t.Helper()
	req, err := h.svc.RequestRide(p.ID, d.Location, geo.MustCoordinate(dropLat, d.Location.Lon()))
	if err != nil {
		t.Fatal(err)
	}
	r, err := h.svc.AssignRide(context.Background(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.DriverID != d.ID {
		t.Fatalf("expected driver %s, got %s", d.Name, r.DriverID)
	}
	h.clock.Advance(dur)
	if err := h.svc.CompleteRide(context.Background(), r.ID, rating, r.EstimatedDistance, r.Fare); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSortCompletedRides(t *testing.T) {
	h := newHarness(t)
	p := h.passenger(t, "P", 0, 0)

	// Each driver is added only when the previous one is busy, so every ride
	// lands on the intended driver.
	d1 := h.driver(t, "d1", 0, 0)
	r1, _ := h.svc.AssignRide(context.Background(), mustRequest(t, h, p, d1.Location, geo.MustCoordinate(0.3, 0)).ID)
	d2 := h.driver(t, "d2", 0, 0)
	r2, _ := h.svc.AssignRide(context.Background(), mustRequest(t, h, p, d2.Location, geo.MustCoordinate(0.2, 0)).ID)
	d3 := h.driver(t, "d3", 0, 0)
	r3, _ := h.svc.AssignRide(context.Background(), mustRequest(t, h, p, d3.Location, geo.MustCoordinate(0.1, 0)).ID)
	d4 := h.driver(t, "d4", 0, 0)
	inProgress, _ := h.svc.AssignRide(context.Background(), mustRequest(t, h, p, d4.Location, geo.MustCoordinate(0.9, 0)).ID)

	if r1.DriverID != d1.ID || r2.DriverID != d2.ID || r3.DriverID != d3.ID || inProgress.DriverID != d4.ID {
		t.Fatal("rides matched to unexpected drivers")
	}
	_ = h.svc.CompleteRide(context.Background(), r1.ID, 3.0, 1, 1)
	_ = h.svc.CompleteRide(context.Background(), r2.ID, 4.0, 1, 1)
	_ = h.svc.CompleteRide(context.Background(), r3.ID, 5.0, 1, 1)

	assertOrder(t, "distance desc", h.svc.SortCompletedRides(SortByDistance), r1, r2, r3)
	assertOrder(t, "rating desc", h.svc.SortCompletedRides(SortByRating), r3, r2, r1)
	assertOrder(t, "distance asc", h.svc.SortCompletedRidesOrder(SortByDistance, false), r3, r2, r1)

	unknown := h.svc.SortCompletedRides("speed")
	if unknown == nil || len(unknown) != 0 {
		t.Fatalf("expected empty non-nil slice for unknown key, got %v", unknown)
	}
}

func mustRequest(t *testing.T, h *harness, p *models.Passenger, pickup, dropoff geo.Coordinate) *models.RideRequest {
	t.Helper()
	req, err := h.svc.RequestRide(p.ID, pickup, dropoff)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func assertOrder(t *testing.T, name string, got []*models.Ride, want ...*models.Ride) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: expected %d rides, got %d", name, len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: position %d is %s, want %s", name, i, got[i].ID, want[i].ID)
		}
	}
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)
	p := h.passenger(t, "P", 0, 0)

	empty := h.svc.AdvancedAnalytics()
	if empty.TotalCompleted != 0 || empty.AverageDriverRating != 0 || empty.AverageDuration != 0 {
		t.Fatalf("expected zero report, got %+v", empty)
	}

	d1 := h.driver(t, "d1", 0, 0)
	r1 := h.completeRide(t, p, d1, 0.1, 4.0, 10*time.Minute)
	r2 := h.completeRide(t, p, d1, 0.05, 4.0, 20*time.Minute)
	h.driver(t, "idle", 10, 10) // rating 5.0, no rides

	simple := h.svc.SimpleAnalytics()
	if simple.TotalCompleted != 2 {
		t.Fatalf("expected 2 completed, got %d", simple.TotalCompleted)
	}
	if math.Abs(simple.TotalFare-(r1.Fare+r2.Fare)) > 1e-9 {
		t.Fatalf("total fare %f, want %f", simple.TotalFare, r1.Fare+r2.Fare)
	}
	if simple.AverageDuration != 15*time.Minute || simple.AverageDurationSec != 900 {
		t.Fatalf("unexpected average duration %s", simple.AverageDuration)
	}

	adv := h.svc.AdvancedAnalytics()
	// d1: 4.0 after two 4.0 ratings; idle: 5.0.
	if math.Abs(adv.AverageDriverRating-4.5) > 1e-9 {
		t.Fatalf("expected mean rating 4.5 over all drivers, got %f", adv.AverageDriverRating)
	}
	if adv.TotalCompleted != 2 || adv.AverageDuration != 15*time.Minute {
		t.Fatalf("unexpected advanced report %+v", adv)
	}
}

func TestAddEntityValidation(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.AddDriver(context.Background(), nil); !errors.Is(err, ErrNilEntity) {
		t.Fatalf("expected ErrNilEntity, got %v", err)
	}
	if err := h.svc.AddPassenger(nil); !errors.Is(err, ErrNilEntity) {
		t.Fatalf("expected ErrNilEntity, got %v", err)
	}
	d := h.driver(t, "D", 0, 0)
	if err := h.svc.AddDriver(context.Background(), d); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	p := &models.Passenger{Identity: models.Identity{Name: "no id"}}
	if err := h.svc.AddPassenger(p); err != nil || p.ID == "" {
		t.Fatalf("expected generated id, got %q err=%v", p.ID, err)
	}
	if _, ok := h.mirror.positions[d.ID]; !ok {
		t.Fatal("new driver should be mirrored")
	}
}

func TestSaveSnapshot(t *testing.T) {
	h := newHarness(t)
	d := h.driver(t, "D", 0, 0)
	p := h.passenger(t, "P", 0, 0)
	h.completeRide(t, p, d, 0.1, 4.5, time.Minute)

	if err := h.svc.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, _ := h.store.Load(context.Background())
	if len(st.Drivers) != 1 || len(st.Passengers) != 1 || len(st.Requests) != 1 || len(st.Rides) != 1 {
		t.Fatalf("unexpected snapshot sizes %+v", st)
	}
	if st.Rides[0].Status != models.RideCompleted || st.Rides[0].EndTime == nil {
		t.Fatalf("unexpected ride record %+v", st.Rides[0])
	}
	if st.Drivers[0].TotalRides != 1 || st.Passengers[0].TotalRides != 1 {
		t.Fatalf("unexpected stats in snapshot %+v %+v", st.Drivers[0], st.Passengers[0])
	}

	bare := NewService(DefaultConfig(), Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := bare.Save(context.Background()); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestConcurrentAssignNeverDoubleBooks(t *testing.T) {
	h := newHarness(t)
	d := h.driver(t, "only", 0, 0)
	p := h.passenger(t, "P", 0, 0)

	const n = 16
	reqs := make([]*models.RideRequest, n)
	for i := range reqs {
		reqs[i] = mustRequest(t, h, p, geo.MustCoordinate(0, 0), geo.MustCoordinate(0, 0.1))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	success, noDriver := 0, 0
	for _, req := range reqs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.svc.AssignRide(context.Background(), id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrNoDriverAvailable):
				noDriver++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(req.ID)
	}
	wg.Wait()

	if success != 1 || noDriver != n-1 {
		t.Fatalf("expected exactly one assignment, got success=%d noDriver=%d", success, noDriver)
	}
	if rides := h.svc.Rides(); len(rides) != 1 || rides[0].DriverID != d.ID {
		t.Fatalf("unexpected rides %+v", rides)
	}
}
