package models

import (
	"strconv"
	"strings"

	"github.com/Krajiyah/ble-navigator/pkg/util"
	"github.com/pkg/errors"
)

// EncodeToken renders a result as "<address>,<rssi>"
func EncodeToken(r ScanResult) string {
	return r.Address + util.TokenDelimiter + strconv.Itoa(r.RSSI)
}

// EncodeTokens renders results in order
func EncodeTokens(results []ScanResult) []string {
	tokens := make([]string, 0, len(results))
	for _, r := range results {
		tokens = append(tokens, EncodeToken(r))
	}
	return tokens
}

// ParseToken is the inverse of EncodeToken
func ParseToken(token string) (ScanResult, error) {
	i := strings.LastIndex(token, util.TokenDelimiter)
	if i <= 0 {
		return ScanResult{}, errors.Errorf("malformed scan token %q", token)
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(token[i+1:]))
	if err != nil {
		return ScanResult{}, errors.Wrapf(err, "malformed rssi in scan token %q", token)
	}
	return ScanResult{Address: token[:i], RSSI: rssi}, nil
}

// ParseTokens parses every token, keeping order. Malformed tokens are
// returned in the error and skipped.
func ParseTokens(tokens []string) ([]ScanResult, error) {
	results := make([]ScanResult, 0, len(tokens))
	var bad []string
	for _, token := range tokens {
		r, err := ParseToken(token)
		if err != nil {
			bad = append(bad, token)
			continue
		}
		results = append(results, r)
	}
	if len(bad) > 0 {
		return results, errors.Errorf("skipped %d malformed scan tokens: %v", len(bad), bad)
	}
	return results, nil
}
