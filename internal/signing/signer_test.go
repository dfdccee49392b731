package signing

import (
	"context"
	"errors"
	"testing"
)

func TestStaticSigner(t *testing.T) {
	ctx := context.Background()

	t.Run("prefixes the key", func(t *testing.T) {
		s := &StaticSigner{Prefix: "https://cdn.test/"}
		url, err := s.SignedURL(ctx, "covers/track-a.jpg")
		if err != nil {
			t.Fatalf("SignedURL failed: %v", err)
		}
		if url != "https://cdn.test/covers/track-a.jpg" {
			t.Errorf("url = %q", url)
		}
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		s := &StaticSigner{Prefix: "https://cdn.test/"}
		if _, err := s.SignedURL(ctx, ""); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("err = %v, want ErrEmptyKey", err)
		}
	})

	t.Run("configured error wins", func(t *testing.T) {
		wantErr := errors.New("storage down")
		s := &StaticSigner{Err: wantErr}
		if _, err := s.SignedURL(ctx, "covers/track-a.jpg"); !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want the configured error", err)
		}
	})
}

func TestNewS3SignerValidation(t *testing.T) {
	base := Config{
		BucketName:      "covers",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        "https://r2.test",
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing bucket", func(c *Config) { c.BucketName = "" }},
		{"missing access key", func(c *Config) { c.AccessKeyID = "" }},
		{"missing secret", func(c *Config) { c.SecretAccessKey = "" }},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewS3Signer(cfg); err == nil {
				t.Error("expected a config error")
			}
		})
	}

	t.Run("complete config constructs", func(t *testing.T) {
		s, err := NewS3Signer(base)
		if err != nil {
			t.Fatalf("NewS3Signer failed: %v", err)
		}
		if s.BreakerState() != "closed" {
			t.Errorf("breaker state = %q, want closed on a fresh signer", s.BreakerState())
		}
	})

	t.Run("empty key short-circuits before the breaker", func(t *testing.T) {
		s, err := NewS3Signer(base)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.SignedURL(context.Background(), ""); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("err = %v, want ErrEmptyKey", err)
		}
	})
}
