package model

// UnitResult is the outcome of checking one rule against one file.
type UnitResult struct {
	RuleName string     `json:"rule_name"`
	FilePath string     `json:"file_path"`
	Status   UnitStatus `json:"status"`
	Message  string     `json:"message"`
	CacheHit bool       `json:"cache_hit"`
}

// RuleResult is the aggregated outcome of a rule across its units.
type RuleResult struct {
	RuleName string     `json:"rule_name"`
	Status   RuleStatus `json:"status"`
	Message  string     `json:"message"`
}

// RunSummary counts unit outcomes of a background run.
type RunSummary struct {
	Allow   int `json:"allow"`
	Deny    int `json:"deny"`
	Error   int `json:"error"`
	Pending int `json:"pending"`
}

// RunStatus is the status.json document of a background run.
type RunStatus struct {
	StreamID       string     `json:"stream_id"`
	TotalUnits     int        `json:"total_units"`
	CompletedUnits int        `json:"completed_units"`
	Status         RunState   `json:"status"`
	StartedAt      string     `json:"started_at"`
	UpdatedAt      string     `json:"updated_at"`
	Summary        RunSummary `json:"summary"`
}
