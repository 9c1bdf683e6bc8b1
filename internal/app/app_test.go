package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/paybridge/internal/health"
	"github.com/vladislavdragonenkov/paybridge/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paybridge/internal/version"
)

func findFreePort(t *testing.T) int {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen for free port: %v", err)
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func healthChecks(t *testing.T, handler *healthcheck.Handler) map[string]healthcheck.Check {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var response healthcheck.Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return response.Checks
}

func TestRegisterHealthCheckers_KafkaNotConfigured(t *testing.T) {
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthCheckers(healthHandler, &Dependencies{}, nil, "")

	checks := healthChecks(t, healthHandler)
	check, ok := checks["kafka"]
	if !ok {
		t.Fatal("expected kafka check to be registered")
	}
	if check.Status != healthcheck.StatusHealthy {
		t.Errorf("expected healthy kafka check without brokers, got %s", check.Status)
	}
	if check.Message != "not configured" {
		t.Errorf("expected 'not configured' message, got %q", check.Message)
	}
	if _, ok := checks["postgres"]; ok {
		t.Error("postgres check must not be registered without a store")
	}
}

func TestRegisterHealthCheckers_KafkaProducerUnavailable(t *testing.T) {
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthCheckers(healthHandler, &Dependencies{}, nil, "localhost:9092")

	checks := healthChecks(t, healthHandler)
	if checks["kafka"].Status != healthcheck.StatusDegraded {
		t.Errorf("expected degraded kafka check for brokers without producer, got %s", checks["kafka"].Status)
	}
}

func TestRegisterHealthCheckers_KafkaHealthy(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := kafka.WrapSyncProducer(mockProducer)
	defer producer.Close()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthCheckers(healthHandler, &Dependencies{}, producer, "localhost:9092")

	checks := healthChecks(t, healthHandler)
	if checks["kafka"].Status != healthcheck.StatusHealthy {
		t.Errorf("expected healthy kafka check with producer, got %s", checks["kafka"].Status)
	}
}

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	startMetricsServer(ctx, addr, logger, healthHandler)

	time.Sleep(100 * time.Millisecond)

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for /metrics, got %d", resp.StatusCode)
	}
	if len(body) == 0 {
		t.Error("/metrics must return prometheus exposition")
	}

	for _, path := range []string{"/healthz", "/livez", "/readyz"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestRun_ServesAndStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", findFreePort(t))
	cfg.WebhookSecret = "whsec_run"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg)
	}()

	// Ожидаем, пока API начнёт отвечать.
	base := "http://" + cfg.HTTPAddr
	deadline := time.Now().Add(3 * time.Second)
	var resp *http.Response
	var err error
	for time.Now().Before(deadline) {
		resp, err = http.Get(base + "/api/v1/sessions/absent")
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("api did not start: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "no_session") {
		t.Fatalf("unexpected body: %s", body)
	}

	cancel()
	select {
	case runErr := <-done:
		if runErr != nil && runErr != context.Canceled {
			t.Fatalf("unexpected run error: %v", runErr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = ""

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected validation error")
	}
}
