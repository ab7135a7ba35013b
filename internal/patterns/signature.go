package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// normalizeContext lowercases, tokenizes and sorts the context bag into a
// deterministic feature list. Keys and scalar values both contribute tokens.
func normalizeContext(ctx map[string]interface{}) []string {
	set := make(map[string]struct{})
	for k, v := range ctx {
		for _, tok := range tokenize(k) {
			set[tok] = struct{}{}
		}
		switch val := v.(type) {
		case string:
			for _, tok := range tokenize(val) {
				set[tok] = struct{}{}
			}
		case bool:
			set[fmt.Sprintf("%s=%t", strings.ToLower(k), val)] = struct{}{}
		case float64, float32, int, int32, int64:
			set[fmt.Sprintf("%s=%v", strings.ToLower(k), val)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// signature derives the deterministic pattern key from the normalized
// components.
func signature(kind Kind, features, actions, conditions []string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	for _, part := range [][]string{features, actions, conditions} {
		for _, s := range part {
			h.Write([]byte(s))
			h.Write([]byte{1})
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// cosineSimilarity over token presence vectors: |a∩b| / sqrt(|a|·|b|).
func cosineSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	var common int
	for _, s := range b {
		if _, ok := set[s]; ok {
			common++
		}
	}
	return float64(common) / math.Sqrt(float64(len(a))*float64(len(b)))
}
