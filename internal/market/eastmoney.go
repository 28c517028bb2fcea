package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// topHoldingsCount caps how many holdings we keep per ETF
const topHoldingsCount = 10

// EastmoneyClient fetches ETF top holdings from the Eastmoney fund
// API. Implements HoldingsProvider.
type EastmoneyClient struct {
	getter   httpGetter
	fundBase string
	log      zerolog.Logger
}

// EastmoneyOptions configures the client
type EastmoneyOptions struct {
	FundBaseURL string        // default http://fund.eastmoney.com
	Timeout     time.Duration // default 10s
	Retries     int           // default 3
	BackoffBase time.Duration // default 200ms
	BackoffCap  time.Duration // default 2s
}

// NewEastmoneyClient creates an Eastmoney fund data client
func NewEastmoneyClient(opts EastmoneyOptions, log zerolog.Logger) *EastmoneyClient {
	if opts.FundBaseURL == "" {
		opts.FundBaseURL = "http://fund.eastmoney.com"
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

	log = log.With().Str("client", "eastmoney").Logger()
	return &EastmoneyClient{
		getter: httpGetter{
			client:      &http.Client{Timeout: opts.Timeout},
			headers:     map[string]string{"Referer": "http://fund.eastmoney.com/"},
			retries:     opts.Retries,
			backoffBase: opts.BackoffBase,
			backoffCap:  opts.BackoffCap,
			log:         log,
		},
		fundBase: strings.TrimRight(opts.FundBaseURL, "/"),
		log:      log,
	}
}

// investPositionResponse is the fund position payload. JZBL carries the
// net-value weight as a percent string.
type investPositionResponse struct {
	Datas struct {
		FCODE      string `json:"FCODE"`
		SHORTNAME  string `json:"SHORTNAME"`
		FundStocks []struct {
			GPDM string `json:"GPDM"` // stock code
			GPJC string `json:"GPJC"` // stock short name
			JZBL string `json:"JZBL"` // weight, percent
		} `json:"fundStocks"`
	} `json:"Datas"`
	ErrCode   int    `json:"ErrCode"`
	ErrMsg    string `json:"ErrMsg"`
	Expansion string `json:"Expansion"` // report date YYYY-MM-DD
}

// TopHoldings fetches the ETF's reported top stock holdings, ordered by
// the upstream report (highest weight first), at most ten entries.
func (c *EastmoneyClient) TopHoldings(ctx context.Context, etfCode string) ([]domain.Holding, error) {
	url := fmt.Sprintf("%s/FundMNewApi/FundMNInverstPosition?FCODE=%s", c.fundBase, etfCode)

	body, err := c.getter.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch holdings for %s: %w", etfCode, err)
	}

	var resp investPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse holdings for %s: %w", etfCode, err)
	}
	if resp.ErrCode != 0 {
		return nil, fmt.Errorf("upstream error code %d for %s: %s", resp.ErrCode, etfCode, resp.ErrMsg)
	}
	if len(resp.Datas.FundStocks) == 0 {
		return nil, ErrNoData
	}

	asOf := time.Time{}
	if t, err := time.Parse("2006-01-02", resp.Expansion); err == nil {
		asOf = t
	}

	etfName := resp.Datas.SHORTNAME
	stocks := resp.Datas.FundStocks
	if len(stocks) > topHoldingsCount {
		stocks = stocks[:topHoldingsCount]
	}

	holdings := make([]domain.Holding, 0, len(stocks))
	for i, s := range stocks {
		if !domain.IsValidCode(s.GPDM) {
			continue
		}
		weightPct, err := parseFloat(s.JZBL)
		if err != nil {
			c.log.Warn().Str("etf", etfCode).Str("stock", s.GPDM).Str("jzbl", s.JZBL).Msg("Skipping holding with bad weight")
			continue
		}
		holdings = append(holdings, domain.Holding{
			StockCode: s.GPDM,
			StockName: s.GPJC,
			ETFCode:   etfCode,
			ETFName:   etfName,
			Weight:    weightPct / 100,
			Rank:      i + 1,
			AsOf:      asOf,
		})
	}

	c.log.Debug().Str("etf", etfCode).Int("holdings", len(holdings)).Msg("Fetched top holdings")
	return holdings, nil
}
