package rate

import (
	"net/http"

	"markflow/logger"
)

// ReportOkxUsedWeight parses rate-limit headers from OKX REST responses and
// emits a single `used_weight` metric for the originating IP. It accepts both
// standard and "X-" prefixed header variants.
func ReportOkxUsedWeight(log *logger.Log, header http.Header, ip string) {
	used := computeOkxUsedWeight(header)
	l := log.WithComponent("okx_feed")
	fields := logger.Fields{"ip": ip, "source": "okx"}
	l.LogMetric("okx_feed", "used_weight", used, "gauge", fields)
}

// computeOkxUsedWeight derives the consumed request budget from the response
// headers. OKX reports either an explicit used value or a limit/remaining pair
// depending on the endpoint; the larger derived value wins.
func computeOkxUsedWeight(header http.Header) int64 {
	used := firstHeaderInt(header, "Rate-Limit-Used", "X-RateLimit-Used")

	limit := firstHeaderInt(header, "Rate-Limit-Limit", "X-RateLimit-Limit")
	remaining := firstHeaderInt(header, "Rate-Limit-Remaining", "X-RateLimit-Remaining")

	if limit > 0 && remaining >= 0 {
		if diff := limit - remaining; diff > used {
			used = diff
		}
	}

	if used < 0 {
		return 0
	}
	return used
}

// firstHeaderInt returns the first integer found in any of the named headers,
// or -1 when none of them carry a numeric value.
func firstHeaderInt(header http.Header, names ...string) int64 {
	for _, name := range names {
		for _, raw := range header.Values(name) {
			if nums := extractInts(raw); len(nums) > 0 {
				return nums[0]
			}
		}
	}
	return -1
}
