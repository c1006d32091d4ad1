package daemon

import "testing"

func TestSettingsFromConfigDefaults(t *testing.T) {
	settings := SettingsFromConfig(nil)
	if !settings.Enabled {
		t.Error("expected daemon enabled by default")
	}
	if settings.Port == 0 {
		t.Error("expected a non-zero default port")
	}
	if settings.Address() == "" {
		t.Error("expected a non-empty bind address")
	}
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("STEAD_DAEMON_PORT", "9100")
	t.Setenv("STEAD_DAEMON_HOST", "0.0.0.0")
	t.Setenv("STEAD_DAEMON_ENABLED", "false")

	settings := SettingsFromConfig(nil)
	if settings.Port != 9100 {
		t.Errorf("Port = %d, want 9100", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", settings.Host)
	}
	if settings.Enabled {
		t.Error("expected Enabled=false from env override")
	}
}

func TestSettingsNormalizeRejectsInvalidPort(t *testing.T) {
	s := Settings{Host: "localhost", Port: -1}
	s.normalize()
	if s.Port <= 0 || s.Port > 65535 {
		t.Errorf("Port = %d after normalize, want a valid port", s.Port)
	}
}
