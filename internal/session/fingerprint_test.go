package session

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	meta := RequestMeta{
		UserAgent: "Mozilla/5.0",
		ClientIP:  "203.0.113.54",
	}

	ua1, ip1 := Fingerprint(meta, "secret")
	ua2, ip2 := Fingerprint(meta, "secret")

	if ua1 != ua2 || ip1 != ip2 {
		t.Errorf("fingerprint should be deterministic: (%q,%q) != (%q,%q)", ua1, ip1, ua2, ip2)
	}
	if len(ua1) != fingerprintHexLen {
		t.Errorf("uaTag length = %d, want %d", len(ua1), fingerprintHexLen)
	}
	if len(ip1) != fingerprintHexLen {
		t.Errorf("ipTag length = %d, want %d", len(ip1), fingerprintHexLen)
	}
}

func TestFingerprint_DifferentSecrets_DifferentTags(t *testing.T) {
	meta := RequestMeta{UserAgent: "Mozilla/5.0", ClientIP: "203.0.113.54"}

	ua1, ip1 := Fingerprint(meta, "secret-a")
	ua2, ip2 := Fingerprint(meta, "secret-b")

	if ua1 == ua2 {
		t.Error("uaTag should differ across secrets")
	}
	if ip1 == ip2 {
		t.Error("ipTag should differ across secrets")
	}
}

func TestFingerprint_NoClientIP_EmptyIPTag(t *testing.T) {
	meta := RequestMeta{UserAgent: "Mozilla/5.0"}

	_, ipTag := Fingerprint(meta, "secret")
	if ipTag != "" {
		t.Errorf("ipTag = %q, want empty when client IP is unavailable", ipTag)
	}
}

func TestFingerprint_SamePrefix_SameIPTag(t *testing.T) {
	// /16近傍のIP変動（下位オクテットの変化）はタグを変えない
	metaA := RequestMeta{ClientIP: "203.0.113.54"}
	metaB := RequestMeta{ClientIP: "203.0.200.1"}

	_, tagA := Fingerprint(metaA, "secret")
	_, tagB := Fingerprint(metaB, "secret")

	if tagA != tagB {
		t.Errorf("same /16 prefix should yield same ipTag: %q != %q", tagA, tagB)
	}
}

func TestFingerprint_DifferentPrefix_DifferentIPTag(t *testing.T) {
	metaA := RequestMeta{ClientIP: "203.0.113.54"}
	metaB := RequestMeta{ClientIP: "198.51.113.54"}

	_, tagA := Fingerprint(metaA, "secret")
	_, tagB := Fingerprint(metaB, "secret")

	if tagA == tagB {
		t.Error("different network prefixes should yield different ipTags")
	}
}

func TestIPPrefix(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"ipv4", "203.0.113.54", "203.0"},
		{"ipv6", "2001:db8:85a3::8a2e:370:7334", "2001:db8"},
		{"empty", "", ""},
		{"garbage", "not-an-ip", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ipPrefix(tt.ip); got != tt.want {
				t.Errorf("ipPrefix(%q) = %q, want %q", tt.ip, got, tt.want)
			}
		})
	}
}

func TestMetaFromRequest_ForwardedFor(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"single", "203.0.113.54", "203.0.113.54"},
		{"multiple entries take first", "203.0.113.54, 10.0.0.1, 10.0.0.2", "203.0.113.54"},
		{"with spaces", "  203.0.113.54  ,10.0.0.1", "203.0.113.54"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRequest(t, map[string]string{"X-Forwarded-For": tt.header})
			meta := MetaFromRequest(r)
			if meta.ClientIP != tt.want {
				t.Errorf("ClientIP = %q, want %q", meta.ClientIP, tt.want)
			}
		})
	}
}
