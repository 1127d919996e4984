package version

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"0.1.0", "0.1.0", 0},
		{"0.1.0", "0.2.0", -1},
		{"0.2.0", "0.1.0", 1},
		{"0.1.0", "1.0.0", -1},
		{"1.0.0", "0.9.9", 1},
		{"0.1.0", "0.1.1", -1},
		{"v0.1.0", "0.1.0", 0},
		{"1.0.0-beta", "1.0.0", 0},
		{"1.0", "1.0.0", 0},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.v1, tt.v2); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
		}
	}
}

func TestUpdateMessage(t *testing.T) {
	info := &UpdateInfo{CurrentVersion: "0.1.0", LatestVersion: "0.2.0", UpdateAvailable: true}
	if info.UpdateMessage() == "" {
		t.Error("expected a message when an update is available")
	}

	info = &UpdateInfo{CurrentVersion: "0.1.0", LatestVersion: "0.1.0"}
	if info.UpdateMessage() != "" {
		t.Errorf("expected no message, got %q", info.UpdateMessage())
	}

	info = &UpdateInfo{UpdateAvailable: true, Error: "network down"}
	if info.UpdateMessage() != "" {
		t.Error("expected no message when the check errored")
	}
}

func TestCheckerStartsUnchecked(t *testing.T) {
	c := NewChecker()
	if c.HasChecked() {
		t.Error("fresh checker should not report a completed check")
	}
	if c.GetUpdateInfo() != nil {
		t.Error("fresh checker should have no cached info")
	}
}
