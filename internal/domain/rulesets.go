package domain

import "time"

// ParentType identifies what a rule set is attached to
type ParentType string

const (
	ParentPortfolio ParentType = "PORTFOLIO"
	ParentHolding   ParentType = "HOLDING"
)

// RuleType is the trade direction a rule signals
type RuleType string

const (
	RuleBuy  RuleType = "BUY"
	RuleSell RuleType = "SELL"
)

// LogicalOperator combines a rule's conditions
type LogicalOperator string

const (
	OperatorAnd LogicalOperator = "AND"
	OperatorOr  LogicalOperator = "OR"
)

// RuleStatus toggles a rule without deleting it
type RuleStatus string

const (
	RuleEnabled RuleStatus = "ENABLED"
	RulePaused  RuleStatus = "PAUSED"
)

// ConditionType enumerates supported rule conditions
type ConditionType string

const (
	ConditionDrawdownFromHigh ConditionType = "DRAWDOWN_FROM_HIGH"
	ConditionRSILevel         ConditionType = "RSI_LEVEL"
	ConditionPriceVsSMA       ConditionType = "PRICE_VS_SMA"
	ConditionPriceVsVWMA      ConditionType = "PRICE_VS_VWMA"
	ConditionMACDCrossover    ConditionType = "MACD_CROSSOVER"
	ConditionVIXLevel         ConditionType = "VIX_LEVEL"
	ConditionProfitTarget     ConditionType = "PROFIT_TARGET"
	ConditionStopLoss         ConditionType = "STOP_LOSS"
	ConditionTrailingStopLoss ConditionType = "TRAILING_STOP_LOSS"
)

var knownConditions = map[ConditionType]bool{
	ConditionDrawdownFromHigh: true,
	ConditionRSILevel:         true,
	ConditionPriceVsSMA:       true,
	ConditionPriceVsVWMA:      true,
	ConditionMACDCrossover:    true,
	ConditionVIXLevel:         true,
	ConditionProfitTarget:     true,
	ConditionStopLoss:         true,
	ConditionTrailingStopLoss: true,
}

// Valid reports whether t is a known condition type
func (t ConditionType) Valid() bool {
	return knownConditions[t]
}

// Condition is a single typed predicate inside a rule
type Condition struct {
	ConditionID string                 `json:"conditionId"`
	Type        ConditionType          `json:"type"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Rule groups conditions under one logical operator
type Rule struct {
	RuleID          string          `json:"ruleId"`
	RuleType        RuleType        `json:"ruleType"`
	LogicalOperator LogicalOperator `json:"logicalOperator"`
	Status          RuleStatus      `json:"status"`
	Conditions      []Condition     `json:"conditions"`
}

// RuleSet is alerting configuration attached to a portfolio or holding.
// It is stored only; nothing evaluates it yet.
type RuleSet struct {
	RuleSetID  string     `json:"ruleSetId"`
	UserID     string     `json:"userId"`
	ParentID   string     `json:"parentId"`
	ParentType ParentType `json:"parentType"`
	Rules      []Rule     `json:"rules"`
	CreatedAt  time.Time  `json:"createdAt"`
	ModifiedAt time.Time  `json:"modifiedAt"`
}
