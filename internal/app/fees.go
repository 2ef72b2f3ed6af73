package app

import "math"

// ComputeFee returns the platform fee for a gross amount at the configured
// percentage, rounded half-up on integer kobo. Non-positive inputs yield zero.
func ComputeFee(gross int64, percent float64) int64 {
	if gross <= 0 || percent <= 0 {
		return 0
	}
	return int64(math.Floor(float64(gross)*percent/100.0 + 0.5))
}

// SplitDeposit splits a gross deposit into the platform fee and the net amount
// credited to the user's wallet.
func SplitDeposit(gross int64, percent float64) (fee, net int64) {
	fee = ComputeFee(gross, percent)
	return fee, gross - fee
}
