package oi

import "time"

// Quotas are the reservation limits of the three indexer tiers and the
// imp thresholds that move an indexer between them.
type Quotas struct {
	Initial          int `yaml:"initial"`
	Probation        int `yaml:"probation"`
	Default          int `yaml:"default"`
	OngoingInitial   int `yaml:"ongoing_initial"`
	OngoingProbation int `yaml:"ongoing_probation"`
	OngoingDefault   int `yaml:"ongoing_default"`
	ImpsForApproval  int `yaml:"imps_for_approval"`
	DefaultQuotaImps int `yaml:"default_quota_imps"`
}

type Config struct {
	Quotas          Quotas
	AnonymousUserID int64
	StaleAfter      time.Duration
}

func DefaultQuotas() Quotas {
	return Quotas{
		Initial:          1,
		Probation:        6,
		Default:          12,
		OngoingInitial:   0,
		OngoingProbation: 2,
		OngoingDefault:   4,
		ImpsForApproval:  3,
		DefaultQuotaImps: 100,
	}
}

func DefaultConfig() Config {
	return Config{
		Quotas:          DefaultQuotas(),
		AnonymousUserID: 1,
		StaleAfter:      3 * 7 * 24 * time.Hour,
	}
}
