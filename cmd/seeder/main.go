// Command seeder fills a running care-assets API with sample equipment and
// one service record per asset.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/models"
)

var facilities = []string{"Rosewood Lodge", "Banksia House", "Wattle Grove"}

var wings = []string{"North Wing", "South Wing", "Memory Care", "Respite", "Store Room"}

type template struct {
	category  models.AssetCategory
	names     []string
	frequency int
	service   models.ServiceType
}

var templates = []template{
	{models.CategoryHoist, []string{"Ceiling hoist", "Mobile hoist", "Standing hoist"}, 180, models.ServiceInspection},
	{models.CategoryWheelchair, []string{"Manual wheelchair", "Tilt-in-space chair", "Transit chair"}, 365, models.ServiceRoutine},
	{models.CategoryBed, []string{"Low-low bed", "Hi-lo bed", "Bariatric bed"}, 365, models.ServiceRoutine},
	{models.CategoryScale, []string{"Chair scale", "Hoist scale", "Platform scale"}, 180, models.ServiceCalibration},
	{models.CategoryOther, []string{"Shower chair", "Pressure mattress", "Walking frame"}, 365, models.ServiceCleaning},
}

type seeder struct {
	apiURL string
	token  string
	client *http.Client
	rng    *rand.Rand
	now    func() time.Time
}

type summary struct {
	Created  int
	Queued   int
	Services int
	Failed   int
}

func newSeeder(apiURL, token string, seed int64) *seeder {
	return &seeder{
		apiURL: apiURL,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

func (s *seeder) post(path string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.apiURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, e.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// login exchanges credentials for a token.
func (s *seeder) login(username, password string) error {
	var resp models.LoginResponse
	if _, err := s.post("/auth/login", models.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return err
	}
	s.token = resp.Token
	return nil
}

// sampleAsset builds the i-th asset. Last service dates spread over the
// past 14 months so every service status shows up.
func (s *seeder) sampleAsset(i int) models.Asset {
	t := templates[s.rng.Intn(len(templates))]
	facility := facilities[i%len(facilities)]
	freq := t.frequency
	last := s.now().UTC().AddDate(0, 0, -s.rng.Intn(420))
	last = time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)

	a := models.Asset{
		Name:                 t.names[s.rng.Intn(len(t.names))],
		Category:             t.category,
		SerialNumber:         fmt.Sprintf("SN-%s-%05d", t.category, 1000+i),
		QRCode:               fmt.Sprintf("QR-%06d", i+1),
		Facility:             facility,
		Location:             wings[s.rng.Intn(len(wings))],
		Status:               models.AssetActive,
		LastServiceDate:      &last,
		ServiceFrequencyDays: &freq,
	}
	switch s.rng.Intn(10) {
	case 0:
		a.Status = models.AssetSpare
	case 1:
		a.Status = models.AssetOutOfService
		a.Notes = "Awaiting parts"
	}
	return a
}

func serviceTypeFor(c models.AssetCategory) models.ServiceType {
	for _, t := range templates {
		if t.category == c {
			return t.service
		}
	}
	return models.ServiceRoutine
}

type writeResponse struct {
	Data   models.Asset `json:"data"`
	Result struct {
		Queued bool `json:"queued"`
	} `json:"result"`
}

func (s *seeder) createAsset(i int) (models.Asset, bool, error) {
	var resp writeResponse
	if _, err := s.post("/assets", s.sampleAsset(i), &resp); err != nil {
		return models.Asset{}, false, err
	}
	log.WithFields(log.Fields{
		"asset_id": resp.Data.ID,
		"category": resp.Data.Category,
		"facility": resp.Data.Facility,
		"queued":   resp.Result.Queued,
	}).Info("Created asset")
	return resp.Data, resp.Result.Queued, nil
}

func (s *seeder) recordService(a models.Asset) error {
	if a.LastServiceDate == nil {
		return nil
	}
	req := map[string]interface{}{
		"service_date": a.LastServiceDate.Format("2006-01-02"),
		"type":         serviceTypeFor(a.Category),
		"performed_by": "Seed Contractor",
		"description":  "Imported service history",
	}
	_, err := s.post("/assets/"+a.ID+"/services", req, nil)
	return err
}

func (s *seeder) run(count int) summary {
	var sum summary
	for i := 0; i < count; i++ {
		a, queued, err := s.createAsset(i)
		if err != nil {
			log.WithError(err).Error("Failed to create asset")
			sum.Failed++
			continue
		}
		sum.Created++
		if queued {
			sum.Queued++
		}
		if err := s.recordService(a); err != nil {
			log.WithError(err).WithField("asset_id", a.ID).Warn("Failed to record service")
			continue
		}
		sum.Services++
	}
	return sum
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load()

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	count := getInt("SEED_COUNT", 24)
	seed := int64(getInt("SEED_RANDOM", int(time.Now().UnixNano()%1e9)))

	s := newSeeder(apiURL, os.Getenv("SEED_AUTH_TOKEN"), seed)
	if s.token == "" {
		username, password := os.Getenv("SEED_USERNAME"), os.Getenv("SEED_PASSWORD")
		if username == "" {
			log.Fatal("Set SEED_AUTH_TOKEN or SEED_USERNAME and SEED_PASSWORD")
		}
		if err := s.login(username, password); err != nil {
			log.WithError(err).Fatal("Login failed")
		}
	}

	log.WithFields(log.Fields{"api_url": apiURL, "count": count}).Info("Seeding assets")
	sum := s.run(count)
	log.WithFields(log.Fields{
		"created":  sum.Created,
		"queued":   sum.Queued,
		"services": sum.Services,
		"failed":   sum.Failed,
	}).Info("Seeding completed")
	if sum.Created == 0 {
		os.Exit(1)
	}
}
