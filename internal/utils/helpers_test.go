package utils

import (
	"testing"

	"github.com/RecoveryAshes/imgharvest/internal/models"
)

func TestValidateWebsite(t *testing.T) {
	social := []string{"facebook.com", "instagram.com"}

	tests := []struct {
		name       string
		website    string
		wantOK     bool
		wantStatus models.OutcomeStatus
		wantReason string
	}{
		{"正常网站", "https://example.com/gallery", true, "", ""},
		{"空网站", "   ", false, models.StatusNoWebsite, ReasonInvalidOrMissing},
		{"非http协议", "ftp://example.com", false, models.StatusSkipped, ReasonInvalidOrMissing},
		{"纯文本", "n/a", false, models.StatusSkipped, ReasonInvalidOrMissing},
		{"facebook", "https://facebook.com/page", false, models.StatusSkipped, ReasonSocialLink},
		{"facebook子域名", "https://m.facebook.com/page", false, models.StatusSkipped, ReasonSocialLink},
		{"instagram", "http://www.instagram.com/x", false, models.StatusSkipped, ReasonSocialLink},
		{"相似但不同的域名", "https://notfacebook.com", true, "", ""},
		{"大写协议", "HTTPS://Example.com/x", true, "", ""},
		{"缺少主机", "http://", false, models.StatusSkipped, ReasonInvalidFormat},
		{"非法转义", "https://example.com/%zz", false, models.StatusSkipped, ReasonInvalidFormat},
		{"非法转义的社交链接", "https://facebook.com/%zz", false, models.StatusSkipped, ReasonSocialLink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, status, reason := ValidateWebsite(tt.website, social)
			if ok != tt.wantOK || status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("ValidateWebsite(%q) = (%v, %q, %q), 期望 (%v, %q, %q)",
					tt.website, ok, status, reason, tt.wantOK, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestIsSocialHost(t *testing.T) {
	social := []string{"facebook.com"}

	if !IsSocialHost("WWW.FACEBOOK.COM.", social) {
		t.Error("应忽略大小写和末尾的点")
	}
	if IsSocialHost("", social) {
		t.Error("空主机不是社交域名")
	}
	if IsSocialHost("facebook.com.example.org", social) {
		t.Error("仅前缀相同的主机不是社交域名")
	}
}
