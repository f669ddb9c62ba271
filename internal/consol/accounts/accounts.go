// Package accounts maps consolidation roles to group chart-of-account codes.
package accounts

import (
	"fmt"
	"os"
	"reflect"

	"gopkg.in/yaml.v2"
)

// Map holds the group account used for each role an engine posts to.
type Map struct {
	Investment            string `yaml:"investment"`
	SubsidiaryEquity      string `yaml:"subsidiary_equity"`
	Goodwill              string `yaml:"goodwill"`
	NegativeGoodwill      string `yaml:"negative_goodwill"`
	GoodwillAmortization  string `yaml:"goodwill_amortization"`
	GoodwillImpairment    string `yaml:"goodwill_impairment"`
	HiddenReserves        string `yaml:"hidden_reserves"`
	HiddenLiabilities     string `yaml:"hidden_liabilities"`
	DeferredTaxLiability  string `yaml:"deferred_tax_liability"`
	MinorityInterest      string `yaml:"minority_interest"`
	MinorityProfitShare   string `yaml:"minority_profit_share"`
	GroupRetainedEarnings string `yaml:"group_retained_earnings"`
	ICReceivables         string `yaml:"ic_receivables"`
	ICPayables            string `yaml:"ic_payables"`
	ICRevenue             string `yaml:"ic_revenue"`
	ICExpense             string `yaml:"ic_expense"`
	CostOfSales           string `yaml:"cost_of_sales"`
	Inventory             string `yaml:"inventory"`
	DisposalClearing      string `yaml:"disposal_clearing"`
	DisposalGain          string `yaml:"disposal_gain"`
	DisposalLoss          string `yaml:"disposal_loss"`
	GoodwillDisposal      string `yaml:"goodwill_disposal"`
	TranslationReserve    string `yaml:"translation_reserve"`
}

// Default returns the HGB group chart used when no file is configured.
func Default() Map {
	return Map{
		Investment:            "0500",
		SubsidiaryEquity:      "2000",
		Goodwill:              "0150",
		NegativeGoodwill:      "2950",
		GoodwillAmortization:  "4822",
		GoodwillImpairment:    "4841",
		HiddenReserves:        "0090",
		HiddenLiabilities:     "3095",
		DeferredTaxLiability:  "3065",
		MinorityInterest:      "2980",
		MinorityProfitShare:   "7990",
		GroupRetainedEarnings: "2970",
		ICReceivables:         "1400",
		ICPayables:            "3300",
		ICRevenue:             "8000",
		ICExpense:             "6000",
		CostOfSales:           "5000",
		Inventory:             "1000",
		DisposalClearing:      "1590",
		DisposalGain:          "4855",
		DisposalLoss:          "6895",
		GoodwillDisposal:      "6890",
		TranslationReserve:    "2960",
	}
}

// Load reads overrides from a YAML file on top of Default. An empty path
// returns the defaults.
func Load(path string) (Map, error) {
	m := Default()
	if path == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Map{}, fmt.Errorf("accounts: read %s: %w", path, err)
	}
	var override Map
	if err := yaml.UnmarshalStrict(raw, &override); err != nil {
		return Map{}, fmt.Errorf("accounts: parse %s: %w", path, err)
	}
	m.merge(override)
	return m, nil
}

func (m *Map) merge(override Map) {
	dst := reflect.ValueOf(m).Elem()
	src := reflect.ValueOf(override)
	for i := 0; i < src.NumField(); i++ {
		if v := src.Field(i).String(); v != "" {
			dst.Field(i).SetString(v)
		}
	}
}
