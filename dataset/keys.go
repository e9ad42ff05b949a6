package dataset

import "github.com/clonegraph/suset/quad"

// dataPrefix is the default-graph key layout: 'D' + subject + 0x00 +
// predicate + 0x00 + object, so that Values(s, p) can range-scan a
// single subject/predicate pair without a secondary index.
const dataPrefix = 'D'

func dataKey(t quad.Triple) []byte {
	key := make([]byte, 0, 64)
	key = append(key, dataPrefix)
	key = append(key, []byte(t.S.String())...)
	key = append(key, 0)
	key = append(key, []byte(t.P.String())...)
	key = append(key, 0)
	key = append(key, []byte(t.O.String())...)
	return key
}

func dataSubjectPredicatePrefix(s, p quad.Term) []byte {
	key := make([]byte, 0, 64)
	key = append(key, dataPrefix)
	key = append(key, []byte(s.String())...)
	key = append(key, 0)
	key = append(key, []byte(p.String())...)
	key = append(key, 0)
	return key
}

func incrementKey(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return append(out, 0xff)
}
