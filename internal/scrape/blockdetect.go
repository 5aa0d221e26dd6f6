package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockPaywall    BlockType = "paywall"
)

// Interstitial pages are small; a full article that merely embeds a
// reCAPTCHA widget for comments should not count as blocked.
const interstitialMaxBytes = 20 * 1024

var paywallMarkers = []string{
	"subscribe to continue reading",
	"this content is for subscribers only",
	"to continue reading, please subscribe",
	"you have reached your free article limit",
}

// DetectBlock checks an HTTP response for anti-bot interstitials and hard
// paywalls that leave no article text to extract.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return true, BlockCloudflare
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	small := len(body) < interstitialMaxBytes

	if strings.Contains(lower, "cf-browser-verification") ||
		small && strings.Contains(lower, "checking your browser") ||
		small && strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if small && (strings.Contains(lower, "captcha") || strings.Contains(lower, "hcaptcha")) {
		return true, BlockCaptcha
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	if small {
		for _, m := range paywallMarkers {
			if strings.Contains(lower, m) {
				return true, BlockPaywall
			}
		}
	}

	return false, BlockNone
}
