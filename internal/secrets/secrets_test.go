package secrets

import "testing"

func TestEnvProvider(t *testing.T) {
	t.Setenv("MAILTRIAGE_WORK_GMAIL_USERNAME", "me@example.com")
	t.Setenv("MAILTRIAGE_WORK_GMAIL_PASSWORD", "hunter2")

	creds, err := (&EnvProvider{}).Resolve("work-gmail")
	if err != nil {
		t.Fatal(err)
	}
	if creds.Username != "me@example.com" || creds.Password != "hunter2" {
		t.Errorf("Unexpected credentials: %+v", creds)
	}
}

func TestEnvProvider_Missing(t *testing.T) {
	_, err := (&EnvProvider{}).Resolve("nonexistent-ref")
	if err == nil {
		t.Fatal("Expected missing environment variables to fail")
	}
}

func TestForName(t *testing.T) {
	if _, err := ForName("keyring"); err != nil {
		t.Errorf("Expected keyring provider, got %v", err)
	}
	if _, err := ForName("env"); err != nil {
		t.Errorf("Expected env provider, got %v", err)
	}
	if _, err := ForName("vault"); err == nil {
		t.Error("Expected unknown provider to fail")
	}
}
