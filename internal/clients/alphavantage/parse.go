package alphavantage

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Alpha Vantage returns every number as a string, sometimes "None", "-"
// or a percentage

func parseFloat64(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	switch s {
	case "", "None", "null", "-", ".":
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseFloat64Ptr(s string) *float64 {
	switch strings.TrimSpace(s) {
	case "", "None", "null", "-", ".":
		return nil
	}
	f := parseFloat64(s)
	return &f
}

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return int64(math.Trunc(parseFloat64(s)))
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDateTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type dailyResponse struct {
	TimeSeries map[string]map[string]string `json:"Time Series (Daily)"`
}

// parseDailyTimeSeries returns bars newest first
func parseDailyTimeSeries(body []byte) ([]DailyBar, error) {
	var resp dailyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode daily series: %w", err)
	}
	if resp.TimeSeries == nil {
		return nil, fmt.Errorf("daily series missing from response")
	}

	out := make([]DailyBar, 0, len(resp.TimeSeries))
	for date, v := range resp.TimeSeries {
		d := parseDate(date)
		if d.IsZero() {
			continue
		}
		out = append(out, DailyBar{
			Date:   d,
			Open:   parseFloat64(v["1. open"]),
			High:   parseFloat64(v["2. high"]),
			Low:    parseFloat64(v["3. low"]),
			Close:  parseFloat64(v["4. close"]),
			Volume: parseInt64(v["5. volume"]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

type quoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
}

func parseGlobalQuote(body []byte) (*Quote, error) {
	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode global quote: %w", err)
	}
	q := resp.GlobalQuote
	if len(q) == 0 || q["01. symbol"] == "" {
		return nil, ErrSymbolNotFound{}
	}
	return &Quote{
		Symbol:           q["01. symbol"],
		Open:             parseFloat64(q["02. open"]),
		High:             parseFloat64(q["03. high"]),
		Low:              parseFloat64(q["04. low"]),
		Price:            parseFloat64(q["05. price"]),
		Volume:           parseInt64(q["06. volume"]),
		LatestTradingDay: parseDate(q["07. latest trading day"]),
		PreviousClose:    parseFloat64(q["08. previous close"]),
		Change:           parseFloat64(q["09. change"]),
		ChangePercent:    parseFloat64(q["10. change percent"]),
	}, nil
}

type searchResponse struct {
	BestMatches []map[string]string `json:"bestMatches"`
}

func parseSymbolSearch(body []byte) ([]SymbolMatch, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode symbol search: %w", err)
	}
	out := make([]SymbolMatch, 0, len(resp.BestMatches))
	for _, m := range resp.BestMatches {
		out = append(out, SymbolMatch{
			Symbol:      m["1. symbol"],
			Name:        m["2. name"],
			Type:        m["3. type"],
			Region:      m["4. region"],
			MarketOpen:  m["5. marketOpen"],
			MarketClose: m["6. marketClose"],
			Timezone:    m["7. timezone"],
			Currency:    m["8. currency"],
			MatchScore:  parseFloat64(m["9. matchScore"]),
		})
	}
	return out, nil
}
