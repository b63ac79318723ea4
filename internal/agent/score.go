package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Score is a bounded scalar such as health or trust. Models sometimes emit
// numbers as strings ("55" or "55/100"), so decoding accepts both.
type Score float64

func (s Score) String() string {
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decode score: %w", err)
		}
		*s = Score(f)
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode score: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '/'); i > 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	raw = strings.TrimSuffix(raw, "%")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("decode score %q: %w", raw, err)
	}
	*s = Score(f)
	return nil
}

// Score ranges enforced when a patch writes a field.
const (
	percentMin  = 0
	percentMax  = 100
	quotientMin = 0
	quotientMax = 300
)

func clamp(v Score, lo, hi float64) Score {
	if float64(v) < lo {
		return Score(lo)
	}
	if float64(v) > hi {
		return Score(hi)
	}
	return v
}
