package logging

import "testing"

func TestNew(t *testing.T) {
	logger, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New(default) failed: %v", err)
	}
	logger.Sync()

	cfg := Config{Level: "debug", Encoding: "console", Development: true}
	if _, err := New(cfg); err != nil {
		t.Fatalf("New(console) failed: %v", err)
	}

	if _, err := New(Config{Level: "bogus"}); err == nil {
		t.Error("invalid level should fail")
	}
	if _, err := New(Config{Level: "info", Encoding: "xml"}); err == nil {
		t.Error("invalid encoding should fail")
	}
}
