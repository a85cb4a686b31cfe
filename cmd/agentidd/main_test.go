// cmd/agentidd/main_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/document"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/gateway"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/keys"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/model"
)

func testConfig(backend string) config.Config {
	return config.Config{
		Env:           "test",
		LedgerBackend: backend,
		LedgerTimeout: 2 * time.Second,
		TokenSecret:   bytes.Repeat([]byte{7}, 32),
		TokenIssuer:   "test",
		SessionTTL:    5 * time.Minute,
		ChallengeTTL:  5 * time.Minute,
		Scopes:        map[string]string{"premium": "dataset://premium"},
	}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	buf, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error: %v", url, err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("POST %s status = %d body=%s", url, resp.StatusCode, string(b))
	}
	return resp
}

// This is an integration-style test that wires the same components main() uses
// but runs them under httptest.Server. The agent registers its document,
// registers its key with the gateway and completes the handshake.
func runIntegration(t *testing.T, cfg config.Config) {
	a, err := build(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ts := httptest.NewServer(a.handler)
	defer func() {
		ts.Close()
		if err := a.shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, _ := did.Derive(kp.PublicKey)
	enc, _ := keys.EncodePublicKey(kp.PublicKey)
	doc := document.Create(id, enc, nil)
	sig, err := document.Sign(doc, kp.PrivateKey)
	if err != nil {
		t.Fatalf("sign document: %v", err)
	}

	// Register and resolve the identity document
	resp := postJSON(t, ts.URL+"/v1/identity", map[string]any{"document": doc, "signature": sig}, nil)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/v1/identity/" + id.String())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	var env struct {
		Data struct {
			Document model.DIDDocument `json:"document"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		resp.Body.Close()
		t.Fatalf("decode get: %v", err)
	}
	resp.Body.Close()
	if env.Data.Document.ID != id.String() || !document.Verify(env.Data.Document, sig) {
		t.Fatalf("resolved document mismatch: %+v", env.Data.Document)
	}

	// Register the key with the gateway, then run the handshake
	pemText, _ := keys.MarshalPublicKeyPEM(kp.PublicKey)
	resp = postJSON(t, ts.URL+"/register_key", map[string]string{"did": id.String(), "public_key": pemText}, nil)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/challenge")
	if err != nil {
		t.Fatalf("challenge error: %v", err)
	}
	var ch struct {
		Challenge string `json:"challenge"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&ch)
	resp.Body.Close()

	proof, err := gateway.SignPossession(kp.PrivateKey, "premium", ch.Challenge)
	if err != nil {
		t.Fatalf("sign possession: %v", err)
	}
	resp = postJSON(t, ts.URL+"/authenticate", map[string]any{
		"did": id.String(), "zkp": proof, "vc_claims": map[string]any{"access": "premium"},
	}, map[string]string{"X-Challenge": ch.Challenge})
	var session struct {
		JWT string `json:"jwt"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/token", map[string]string{"jwt": session.JWT}, nil)
	var access struct {
		AccessToken string `json:"access_token"`
		Resource    string `json:"resource"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&access)
	resp.Body.Close()
	if access.Resource != "dataset://premium" || access.AccessToken == "" {
		t.Fatalf("unexpected access token response: %+v", access)
	}
}

func TestAgentidd_IntegrationMemory(t *testing.T) {
	runIntegration(t, testConfig(config.BackendMemory))
}

func TestAgentidd_IntegrationBadger(t *testing.T) {
	cfg := testConfig(config.BackendBadger)
	cfg.BadgerPath = t.TempDir()
	runIntegration(t, cfg)
}

func TestAgentidd_IntegrationSingleUseChallenges(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	cfg.FeatureSingleUseChallenge = true
	runIntegration(t, cfg)
}

func TestBuildLogsGatewaySettings(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	cfg.FeatureSingleUseChallenge = true
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	a, err := build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = a.shutdown(context.Background()) })

	var found bool
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line struct {
			Msg                 string   `json:"msg"`
			Scopes              []string `json:"scopes"`
			SingleUseChallenges bool     `json:"singleUseChallenges"`
		}
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if line.Msg != "gateway ready" {
			continue
		}
		found = true
		if len(line.Scopes) != 1 || line.Scopes[0] != "premium" || !line.SingleUseChallenges {
			t.Errorf("gateway ready line = %+v", line)
		}
	}
	if !found {
		t.Fatalf("no gateway ready line in %s", buf.String())
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	if _, err := build(context.Background(), testConfig("etcd"), slog.Default()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewLogger(t *testing.T) {
	if _, ok := newLogger(config.Config{Env: "prod"}).Handler().(*slog.JSONHandler); !ok {
		t.Errorf("prod logger should use the JSON handler")
	}
	if _, ok := newLogger(config.Config{Env: "dev"}).Handler().(*slog.TextHandler); !ok {
		t.Errorf("dev logger should use the text handler")
	}
}
