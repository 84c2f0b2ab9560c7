package domain

import "time"

// DateLayout is the calendar-day key used for trend buckets
const DateLayout = "2006-01-02"

// Marketcap buckets reported by the extraction pipeline
const (
	MarketcapMicro  = "micro"
	MarketcapSmall  = "small"
	MarketcapMedium = "medium"
	MarketcapLarge  = "large"
)

// UnknownChannel labels records that carry no channel name
const UnknownChannel = "Unknown"

// KnowledgeRecord is one analysed video in canonical shape
type KnowledgeRecord struct {
	ID              string           `json:"id"`
	Date            time.Time        `json:"date"`
	ChannelName     string           `json:"channel_name"`
	VideoTitle      string           `json:"video_title"`
	Transcript      string           `json:"transcript,omitempty"`
	Link            string           `json:"link,omitempty"`
	ProjectMentions []ProjectMention `json:"project_mentions"`
}

// Day returns the UTC calendar day the record is bucketed under
func (r KnowledgeRecord) Day() string {
	return r.Date.UTC().Format(DateLayout)
}

// ProjectMention is one coin or project referenced by a record
type ProjectMention struct {
	CoinOrProject   string   `json:"coin_or_project"`
	MarketcapBucket string   `json:"marketcap,omitempty"`
	RPoints         float64  `json:"rpoints"`
	TotalCount      int      `json:"total_count"`
	Categories      []string `json:"categories"`
}

// NamedValue is a distribution entry
type NamedValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// TrendPoint is the rpoints total of one project on one day
type TrendPoint struct {
	Date    string  `json:"date"`
	RPoints float64 `json:"rpoints"`
}

// CoinCategories maps a coin to its deduplicated category tags
type CoinCategories struct {
	Coin       string   `json:"coin"`
	Categories []string `json:"categories"`
}

// Quote is the market data known for one coin
type Quote struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	MarketCap         float64 `json:"market_cap"`
	Volume24h         float64 `json:"volume_24h"`
	PercentChange24h  float64 `json:"percent_change_24h"`
	CirculatingSupply float64 `json:"circulating_supply"`
}
