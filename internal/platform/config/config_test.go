package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID":   "fresh-test",
			"API_GATEWAY_TIMEOUT":       "3s",
			"API_CHECKOUT_SHIPPING_FEE": "2500",
		}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want default 8080", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "fresh-test" {
		t.Errorf("Firestore.ProjectID = %q, want firebase fallback", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "fresh-test" {
		t.Errorf("Events.ProjectID = %q, want firestore fallback", cfg.Events.ProjectID)
	}
	if cfg.Events.Topic != "order-events" {
		t.Errorf("Events.Topic = %q", cfg.Events.Topic)
	}
	if cfg.Gateway.Timeout != 3*time.Second {
		t.Errorf("Gateway.Timeout = %s", cfg.Gateway.Timeout)
	}
	if cfg.Gateway.Configured() {
		t.Error("Gateway.Configured() = true without credentials")
	}
	if cfg.Checkout.DefaultShippingFee != 2500 {
		t.Errorf("Checkout.DefaultShippingFee = %d", cfg.Checkout.DefaultShippingFee)
	}
	if cfg.Checkout.FreeShippingOver != 50000 {
		t.Errorf("Checkout.FreeShippingOver = %d, want default", cfg.Checkout.FreeShippingOver)
	}
}

func TestLoadRequiresFirebaseProject(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{}))

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	found := false
	for _, field := range validation.Fields() {
		if field == "Firebase.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing fields = %v, want Firebase.ProjectID", validation.Fields())
	}
}

func TestLoadResolvesGatewaySecrets(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "secret://gateway/api-key":
			return "imp-key", nil
		case "secret://gateway/api-secret":
			return "imp-secret", nil
		}
		return "", errors.New("unknown ref")
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "fresh-test",
			"API_GATEWAY_API_KEY":     "secret://gateway/api-key",
			"API_GATEWAY_API_SECRET":  "sm://gateway/api-secret",
		}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.APIKey != "imp-key" || cfg.Gateway.APISecret != "imp-secret" {
		t.Errorf("gateway credentials = %q/%q", cfg.Gateway.APIKey, cfg.Gateway.APISecret)
	}
	if !cfg.Gateway.Configured() {
		t.Error("Gateway.Configured() = false after secret resolution")
	}
}

func TestLoadWrapsSecretFailures(t *testing.T) {
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})

	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "fresh-test",
			"API_GATEWAY_API_KEY":     "secret://gateway/api-key",
		}),
	)

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("err = %v, want SecretError", err)
	}
	if secretErr.Ref != "secret://gateway/api-key" {
		t.Errorf("Ref = %q", secretErr.Ref)
	}
}
