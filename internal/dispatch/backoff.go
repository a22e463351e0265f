package dispatch

import (
	"math"
	"time"

	"github.com/khanh1998/test-pilot/pkg/api"
)

type backoffCalculator func(baseDelay int64, retryCount int) int64

var backoffCalculators = map[string]backoffCalculator{
	api.BackoffTypeFixed: func(base int64, _ int) int64 {
		return base
	},
	api.BackoffTypeLinear: func(base int64, count int) int64 {
		return base * int64(count+1)
	},
	api.BackoffTypeExponential: func(base int64, count int) int64 {
		multiplier := math.Pow(2, float64(count))
		return int64(float64(base) * multiplier)
	},
}

// shouldRetry reports whether another attempt is allowed after retryCount
// failed attempts. MaxRetries < 0 means unlimited.
func shouldRetry(config *api.WorkConfig, retryCount int) bool {
	if config.MaxRetries == 0 {
		return false
	}
	if config.MaxRetries < 0 {
		return true
	}
	return retryCount < config.MaxRetries
}

// nextDelay computes the wait before the next attempt using the configured
// backoff strategy, capped by MaxBackoff
func nextDelay(config *api.WorkConfig, retryCount int) time.Duration {
	calculator, ok := backoffCalculators[config.BackoffType]
	if !ok {
		calculator = backoffCalculators[api.BackoffTypeFixed]
	}

	delay := calculator(config.InitBackoff, retryCount)
	if config.MaxBackoff > 0 {
		delay = min(delay, config.MaxBackoff)
	}
	return time.Duration(delay) * time.Millisecond
}

// resolveWorkConfig overlays an endpoint's retry settings onto the defaults
func resolveWorkConfig(defaults api.WorkConfig, config *api.WorkConfig) *api.WorkConfig {
	res := defaults
	if config == nil {
		return &res
	}

	if config.MaxRetries != 0 {
		res.MaxRetries = config.MaxRetries
	}
	if config.InitBackoff > 0 {
		res.InitBackoff = config.InitBackoff
	}
	if config.MaxBackoff > 0 {
		res.MaxBackoff = config.MaxBackoff
	}
	if config.BackoffType != "" {
		res.BackoffType = config.BackoffType
	}

	return &res
}
