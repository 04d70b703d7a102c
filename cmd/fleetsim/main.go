// Command fleetsim registers a simulated fleet with dispatchd and drives the
// vehicles around the service area by reporting their positions.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/geo"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

var ambulanceTypes = []models.AmbulanceType{models.AmbulanceTypeA, models.AmbulanceTypeB, models.AmbulanceTypeC}

func jitterLocation(rnd *rand.Rand, base models.Location, meters float64) models.Location {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rnd.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rnd.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return models.Location{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func lerp(a, b models.Location, t float64) models.Location {
	return models.Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// vehicleState is the simulator's view of one ambulance.
type vehicleState struct {
	ID       models.ID
	Position models.Location
	Target   models.Location
	SpeedKmh float64
}

type simulator struct {
	apiURL string
	token  string
	client *http.Client
	center models.Location
	radius float64 // meters
	rnd    *rand.Rand
}

func newSimulator(apiURL string, center models.Location) *simulator {
	return &simulator{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		center: center,
		radius: 5000,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *simulator) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (s *simulator) login(ctx context.Context, email, password string) error {
	var resp models.LoginResponse
	if err := s.do(ctx, http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("login returned no token")
	}
	s.token = resp.AccessToken
	log.WithFields(log.Fields{"email": email, "role": resp.User.Role}).Info("Logged in")
	return nil
}

func (s *simulator) createAmbulance(ctx context.Context, n int) (*vehicleState, error) {
	start := jitterLocation(s.rnd, s.center, s.radius)
	req := models.CreateAmbulanceRequest{
		Name: fmt.Sprintf("AMB-%03d", n),
		Type: ambulanceTypes[s.rnd.Intn(len(ambulanceTypes))],
		Lat:  start.Lat,
		Lng:  start.Lng,
	}
	var created models.Ambulance
	if err := s.do(ctx, http.MethodPost, "/ambulances", req, &created); err != nil {
		return nil, fmt.Errorf("failed to create ambulance: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("invalid ambulance ID in response")
	}

	log.WithFields(log.Fields{
		"ambulance_id": created.ID,
		"name":         created.Name,
		"type":         created.Type,
	}).Info("Created ambulance")

	return &vehicleState{
		ID:       created.ID,
		Position: start,
		Target:   jitterLocation(s.rnd, s.center, s.radius),
		SpeedKmh: 30 + s.rnd.Float64()*30,
	}, nil
}

// step advances v toward its target and picks a new target on arrival.
func (s *simulator) step(v *vehicleState, tickSec float64) {
	remKm := v.SpeedKmh * (tickSec / 3600.0)
	left := geo.DistanceKm(v.Position, v.Target)
	if left <= remKm || left == 0 {
		v.Position = v.Target
		v.Target = jitterLocation(s.rnd, s.center, s.radius)
		return
	}
	v.Position = lerp(v.Position, v.Target, remKm/left)
}

// tick moves every vehicle that is not in maintenance and reports its position.
// Vehicles no longer known to the API are dropped.
func (s *simulator) tick(ctx context.Context, states []*vehicleState, interval time.Duration) []*vehicleState {
	var fleet []models.Ambulance
	if err := s.do(ctx, http.MethodGet, "/ambulances", nil, &fleet); err != nil {
		log.WithError(err).Warn("Failed to list ambulances")
		return states
	}
	status := make(map[models.ID]models.AmbulanceStatus, len(fleet))
	for _, a := range fleet {
		status[a.ID] = a.Status
	}

	kept := states[:0]
	for _, v := range states {
		st, ok := status[v.ID]
		if !ok {
			log.WithField("ambulance_id", v.ID).Warn("Ambulance removed; no longer simulated")
			continue
		}
		kept = append(kept, v)
		if st == models.AmbulanceMaintenance {
			continue
		}
		v.SpeedKmh += (s.rnd.Float64()*2 - 1) * 1.5
		v.SpeedKmh = math.Min(math.Max(v.SpeedKmh, 15), 90)
		s.step(v, interval.Seconds())

		loc := models.UpdateAmbulanceLocationRequest{Lat: v.Position.Lat, Lng: v.Position.Lng}
		if err := s.do(ctx, http.MethodPatch, "/ambulances/"+string(v.ID)+"/location", loc, nil); err != nil {
			log.WithError(err).WithField("ambulance_id", v.ID).Error("Failed to report location")
			continue
		}
		log.WithFields(log.Fields{"ambulance_id": v.ID, "status": st}).Debug("Reported location")
	}
	return kept
}

func (s *simulator) run(ctx context.Context, states []*vehicleState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states = s.tick(ctx, states, interval)
		}
	}
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func main() {
	fleetSize := 10
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			fleetSize = n
		}
	}

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	center := models.Location{
		Lat: envFloat("SIM_CENTER_LAT", 33.5731),
		Lng: envFloat("SIM_CENTER_LNG", -7.5898),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := newSimulator(apiURL, center)
	sim.token = os.Getenv("SIM_AUTH_TOKEN")
	if sim.token == "" {
		if err := sim.login(ctx, os.Getenv("SIM_EMAIL"), os.Getenv("SIM_PASSWORD")); err != nil {
			log.WithError(err).Fatal("Set SIM_AUTH_TOKEN or SIM_EMAIL/SIM_PASSWORD for a fleet chief or admin account")
		}
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	states := make([]*vehicleState, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		v, err := sim.createAmbulance(ctx, i+1)
		if err != nil {
			log.WithError(err).Error("Failed to create ambulance")
			continue
		}
		states = append(states, v)
	}

	log.WithField("created_ambulances", len(states)).Info("Ambulance creation completed")
	if len(states) == 0 {
		log.Error("No ambulances created. Ensure the account may add vehicles and the API is reachable. Exiting.")
		return
	}

	sim.run(ctx, states, interval)
	log.Info("Fleet simulation stopped")
}
