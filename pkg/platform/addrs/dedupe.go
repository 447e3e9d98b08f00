// Package addrs provides address slice utilities.
package addrs

import "grantflow/pkg/domain"

// Dedupe removes duplicates and zero addresses from a slice. Order is
// preserved.
func Dedupe(values []domain.Address) []domain.Address {
	if len(values) == 0 {
		return values
	}

	seen := make(map[domain.Address]struct{}, len(values))
	result := make([]domain.Address, 0, len(values))

	for _, v := range values {
		if v.IsZero() {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

// Contains reports whether the slice holds the address.
func Contains(values []domain.Address, target domain.Address) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// Remove returns the slice without the given addresses. Order is preserved.
func Remove(values []domain.Address, drop []domain.Address) []domain.Address {
	if len(drop) == 0 {
		return values
	}
	dropSet := make(map[domain.Address]struct{}, len(drop))
	for _, d := range drop {
		dropSet[d] = struct{}{}
	}
	result := make([]domain.Address, 0, len(values))
	for _, v := range values {
		if _, ok := dropSet[v]; !ok {
			result = append(result, v)
		}
	}
	return result
}
