package objectstore

import "testing"

func validConfig() Config {
	return Config{
		Endpoint:  "localhost:9000",
		AccessKey: "conveyor",
		SecretKey: "conveyorminio",
		Region:    "us-east-1",
		Bucket:    "artifacts",
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfigValidate_SchemeInEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoint = "http://localhost:9000"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}

func TestConfigValidate_MissingBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}
