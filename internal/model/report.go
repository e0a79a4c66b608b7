package model

import (
	"time"

	"gorm.io/datatypes"
)

type AggregationLevel string

const (
	LevelRegional AggregationLevel = "REGIONAL"
	LevelSchool   AggregationLevel = "SCHOOL"
)

type CalculationStatus string

const (
	StatusPending    CalculationStatus = "pending"
	StatusProcessing CalculationStatus = "processing"
	StatusCompleted  CalculationStatus = "completed"
	StatusFailed     CalculationStatus = "failed"
)

// Report 单个批次在某一层级的汇总输出
type Report struct {
	SchemaVersion    string           `json:"schema_version"`
	BatchCode        string           `json:"batch_code"`
	AggregationLevel AggregationLevel `json:"aggregation_level"`
	SchoolCode       string           `json:"school_code,omitempty"`
	SchoolName       string           `json:"school_name,omitempty"`
	Subjects         []SubjectBlock   `json:"subjects"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SubjectBlock 单科输出；school_rankings 只出现在区域层级，region_rank 与维度 rank 只出现在学校层级
type SubjectBlock struct {
	SubjectName    string           `json:"subject_name"`
	Type           SubjectType      `json:"type"`
	Metrics        SubjectMetrics   `json:"metrics"`
	SchoolRankings []SchoolRanking  `json:"school_rankings,omitempty"`
	RegionRank     *int             `json:"region_rank,omitempty"`
	TotalSchools   *int             `json:"total_schools,omitempty"`
	Dimensions     []DimensionBlock `json:"dimensions,omitempty"`
	Questions      []QuestionBlock  `json:"questions,omitempty"`
	Quality        *QualitySummary  `json:"quality_summary,omitempty"`
}

type SubjectMetrics struct {
	StudentCount   int     `json:"student_count"`
	MaxScore       float64 `json:"max_score"`
	Avg            float64 `json:"avg"`
	StdDev         float64 `json:"stddev"`
	Max            float64 `json:"max"`
	Min            float64 `json:"min"`
	Difficulty     float64 `json:"difficulty"`
	Discrimination float64 `json:"discrimination"`
	P10            float64 `json:"p10"`
	P50            float64 `json:"p50"`
	P90            float64 `json:"p90"`
}

type SchoolRanking struct {
	SchoolCode string  `json:"school_code"`
	SchoolName string  `json:"school_name"`
	Avg        float64 `json:"avg"`
	Rank       int     `json:"rank"`
}

type DimensionBlock struct {
	Code               string        `json:"code"`
	Name               string        `json:"name"`
	Type               string        `json:"dimension_type"`
	Avg                float64       `json:"avg"`
	ScoreRate          float64       `json:"score_rate"` // 百分制
	Rank               *int          `json:"rank,omitempty"`
	OptionDistribution []OptionShare `json:"option_distribution,omitempty"`
}

type QuestionBlock struct {
	QuestionID         string        `json:"question_id"`
	OptionDistribution []OptionShare `json:"option_distribution"`
}

// OptionShare 选项占比，Pct 为 0-100
type OptionShare struct {
	OptionLevel int     `json:"option_level"`
	OptionLabel string  `json:"option_label,omitempty"`
	Count       int     `json:"count"`
	Pct         float64 `json:"pct"`
}

// QualitySummary 问卷作答质量汇总，ValidityRate 为 0-1
type QualitySummary struct {
	TotalResponses int     `json:"total_responses"`
	ValidResponses int     `json:"valid_responses"`
	QualityIssues  int     `json:"quality_issues"`
	ValidityRate   float64 `json:"validity_rate"`
}

// StatisticalAggregation 汇总结果持久化，statistics_data 为不透明 JSON
type StatisticalAggregation struct {
	BaseModel
	BatchCode         string            `gorm:"size:50;uniqueIndex:uk_batch_level_school" json:"batch_code"`
	AggregationLevel  AggregationLevel  `gorm:"size:20;uniqueIndex:uk_batch_level_school" json:"aggregation_level"`
	SchoolCode        string            `gorm:"size:64;uniqueIndex:uk_batch_level_school;default:''" json:"school_code"`
	SchoolName        string            `gorm:"size:200" json:"school_name"`
	StatisticsData    datatypes.JSON    `json:"statistics_data"`
	CalculationStatus CalculationStatus `gorm:"size:20;default:'pending'" json:"calculation_status"`
	RunID             string            `gorm:"size:36;index" json:"run_id"`
	TotalStudents     int               `json:"total_students"`
	TotalSchools      int               `json:"total_schools"`
	CalculationMillis int64             `json:"calculation_millis"`
}

func (StatisticalAggregation) TableName() string {
	return "statistical_aggregations"
}
