package utils

import (
	"net/url"
	"strings"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"golang.org/x/net/publicsuffix"
)

// 跳过原因
const (
	ReasonInvalidOrMissing = "Invalid or missing URL"
	ReasonSocialLink       = "Social link"
	ReasonInvalidFormat    = "Invalid URL format"
)

// ValidateWebsite 检查行的website字段,返回是否可处理
// 不可处理时返回日志状态和原因,调用方不得发起任何网络请求
func ValidateWebsite(website string, socialDomains []string) (ok bool, status models.OutcomeStatus, reason string) {
	website = strings.TrimSpace(website)
	if website == "" {
		return false, models.StatusNoWebsite, ReasonInvalidOrMissing
	}
	if !models.IsHTTPURL(website) {
		return false, models.StatusSkipped, ReasonInvalidOrMissing
	}

	parsed, err := url.Parse(website)
	if err != nil {
		// 解析失败时退回子串匹配,保证社交链接优先于格式错误
		if containsSocialDomain(website, socialDomains) {
			return false, models.StatusSkipped, ReasonSocialLink
		}
		return false, models.StatusSkipped, ReasonInvalidFormat
	}

	if IsSocialHost(parsed.Hostname(), socialDomains) {
		return false, models.StatusSkipped, ReasonSocialLink
	}
	if models.ValidateURL(website) != nil {
		return false, models.StatusSkipped, ReasonInvalidFormat
	}

	return true, "", ""
}

// IsSocialHost 主机是否属于社交域名(按可注册域名比较)
func IsSocialHost(host string, socialDomains []string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}

	registered, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		registered = host
	}

	for _, d := range socialDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if registered == d || host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func containsSocialDomain(s string, socialDomains []string) bool {
	lower := strings.ToLower(s)
	for _, d := range socialDomains {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}
