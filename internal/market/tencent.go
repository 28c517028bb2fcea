package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// maxBatchCodes is the most symbols one quote request may carry
const maxBatchCodes = 100

// quoteFieldCount is the minimum field count of a usable quote record
const quoteFieldCount = 38

// TencentClient fetches quotes and daily klines from the Tencent
// market data HTTP API. Implements QuoteProvider and HistoryProvider.
type TencentClient struct {
	getter    httpGetter
	quoteBase string
	klineBase string
	log       zerolog.Logger
}

// TencentOptions configures the client
type TencentOptions struct {
	QuoteBaseURL string        // default http://qt.gtimg.cn
	KlineBaseURL string        // default http://web.ifzq.gtimg.cn
	Timeout      time.Duration // default 10s
	Retries      int           // default 3
	BackoffBase  time.Duration // default 200ms
	BackoffCap   time.Duration // default 2s
}

// NewTencentClient creates a Tencent market data client
func NewTencentClient(opts TencentOptions, log zerolog.Logger) *TencentClient {
	if opts.QuoteBaseURL == "" {
		opts.QuoteBaseURL = "http://qt.gtimg.cn"
	}
	if opts.KlineBaseURL == "" {
		opts.KlineBaseURL = "http://web.ifzq.gtimg.cn"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 2 * time.Second
	}

	log = log.With().Str("client", "tencent").Logger()
	return &TencentClient{
		getter: httpGetter{
			client:      &http.Client{Timeout: opts.Timeout},
			headers:     map[string]string{"Referer": "http://gu.qq.com/"},
			retries:     opts.Retries,
			backoffBase: opts.BackoffBase,
			backoffCap:  opts.BackoffCap,
			log:         log,
		},
		quoteBase: strings.TrimRight(opts.QuoteBaseURL, "/"),
		klineBase: strings.TrimRight(opts.KlineBaseURL, "/"),
		log:       log,
	}
}

// Quotes fetches real-time quotes for the given 6-digit codes. Codes
// beyond the per-request batch limit are split across requests. Codes
// the upstream does not know are absent from the result.
func (c *TencentClient) Quotes(ctx context.Context, codes []string) (map[string]*domain.Quote, error) {
	quotes := make(map[string]*domain.Quote, len(codes))
	if len(codes) == 0 {
		return quotes, nil
	}

	for start := 0; start < len(codes); start += maxBatchCodes {
		end := start + maxBatchCodes
		if end > len(codes) {
			end = len(codes)
		}

		body, err := c.getter.get(ctx, c.quoteURL(codes[start:end]))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch quotes: %w", err)
		}

		parsed, err := parseQuoteResponse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse quote response: %w", err)
		}
		for code, q := range parsed {
			quotes[code] = q
		}
	}

	c.log.Debug().Int("requested", len(codes)).Int("returned", len(quotes)).Msg("Fetched quotes")
	return quotes, nil
}

// DailyKlines fetches up to days recent daily candles for a code,
// oldest first.
func (c *TencentClient) DailyKlines(ctx context.Context, code string, days int) ([]domain.Kline, error) {
	if days <= 0 {
		days = 120
	}

	symbol := ExchangeSymbol(code)
	url := fmt.Sprintf("%s/appstock/app/fqkline/get?param=%s,day,,,%d,qfq", c.klineBase, symbol, days)

	body, err := c.getter.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", code, err)
	}

	klines, err := parseKlineResponse(body, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to parse klines for %s: %w", code, err)
	}

	c.log.Debug().Str("code", code).Int("count", len(klines)).Msg("Fetched daily klines")
	return klines, nil
}

func (c *TencentClient) quoteURL(codes []string) string {
	symbols := make([]string, len(codes))
	for i, code := range codes {
		symbols[i] = ExchangeSymbol(code)
	}
	return c.quoteBase + "/q=" + strings.Join(symbols, ",")
}

// parseQuoteResponse decodes the v_shXXXXXX="f0~f1~..." record format.
// Records that are malformed or too short are skipped.
func parseQuoteResponse(body []byte) (map[string]*domain.Quote, error) {
	quotes := make(map[string]*domain.Quote)

	for _, line := range strings.Split(string(body), ";") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "v_") {
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		symbol := line[2:eq]
		payload := strings.Trim(line[eq+1:], `"`)

		fields := strings.Split(payload, "~")
		if len(fields) < quoteFieldCount {
			continue
		}

		code, err := SymbolCode(symbol)
		if err != nil {
			continue
		}

		q, err := quoteFromFields(code, fields)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", symbol, err)
		}
		quotes[code] = q
	}

	return quotes, nil
}

// Field layout of a quote record, split on "~":
//
//	3 price, 4 prev close, 5 open, 9/10 best bid price/lots,
//	30 timestamp, 32 change pct, 33 high, 34 low,
//	36 volume (lots), 37 amount (10k CNY)
func quoteFromFields(code string, f []string) (*domain.Quote, error) {
	price, err := parseFloat(f[3])
	if err != nil {
		return nil, fmt.Errorf("bad price: %w", err)
	}
	prevClose, err := parseFloat(f[4])
	if err != nil {
		return nil, fmt.Errorf("bad prev close: %w", err)
	}
	open, _ := parseFloat(f[5])
	bidPrice, _ := parseFloat(f[9])
	bidLots, _ := parseFloat(f[10])
	changePct, _ := parseFloat(f[32])
	high, _ := parseFloat(f[33])
	low, _ := parseFloat(f[34])
	volLots, _ := parseFloat(f[36])
	amountWan, _ := parseFloat(f[37])

	// Upstream timestamps carry no zone; they are exchange local time.
	ts := time.Now()
	if t, err := time.ParseInLocation("20060102150405", f[30], exchangeLocation); err == nil {
		ts = t
	}

	q := &domain.Quote{
		Code:      code,
		Name:      f[1],
		Price:     price,
		PrevClose: prevClose,
		Open:      open,
		High:      high,
		Low:       low,
		ChangePct: changePct / 100,
		Volume:    volLots * 100,
		Amount:    amountWan * 1e4,
		BidVolume: bidPrice * bidLots * 100,
		Timestamp: ts,
	}

	limit := domain.BoardOf(code).LimitPct()
	q.IsLimitUp = domain.AtLimitUp(code, price, prevClose) &&
		q.ChangePct >= limit-domain.ChangePctEpsilon
	q.IsLimitDown = domain.AtLimitDown(code, price, prevClose) &&
		q.ChangePct <= -(limit - domain.ChangePctEpsilon)

	return q, nil
}

// parseKlineResponse decodes the fqkline JSON shape. Rows are
// [date, open, close, high, low, volume, amount?] with string values.
func parseKlineResponse(body []byte, symbol string) ([]domain.Kline, error) {
	var resp struct {
		Code int                        `json:"code"`
		Msg  string                     `json:"msg"`
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("upstream error code %d: %s", resp.Code, resp.Msg)
	}

	raw, ok := resp.Data[symbol]
	if !ok {
		return nil, ErrNoData
	}

	var series map[string]json.RawMessage
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("invalid series payload: %w", err)
	}

	var rows [][]interface{}
	for _, key := range []string{"qfqday", "day"} {
		if rawRows, ok := series[key]; ok {
			if err := json.Unmarshal(rawRows, &rows); err != nil {
				return nil, fmt.Errorf("invalid kline rows under %q: %w", key, err)
			}
			break
		}
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	klines := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		date, _ := row[0].(string)
		open, err := toFloat(row[1])
		if err != nil {
			return nil, fmt.Errorf("row %s: bad open: %w", date, err)
		}
		closePrice, _ := toFloat(row[2])
		high, _ := toFloat(row[3])
		low, _ := toFloat(row[4])
		volume, _ := toFloat(row[5])

		k := domain.Kline{
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		}
		if len(row) > 6 {
			if amount, err := toFloat(row[6]); err == nil {
				k.Amount = amount
			}
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return parseFloat(x)
	case json.Number:
		return x.Float64()
	default:
		return 0, fmt.Errorf("unexpected value %v (%T)", v, v)
	}
}
