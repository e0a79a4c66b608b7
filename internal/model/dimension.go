package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// DimensionMapping 题目到维度的映射，同一题目在同一维度类型下只属于一个维度值
type DimensionMapping struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	BatchCode       string         `gorm:"size:50;index:idx_dm_batch_type" json:"batch_code"`
	SubjectName     string         `gorm:"size:100" json:"subject_name,omitempty"`
	QuestionID      string         `gorm:"size:64" json:"question_id"`
	DimensionType   string         `gorm:"size:50;index:idx_dm_batch_type" json:"dimension_type"`
	DimensionValue  string         `gorm:"size:100" json:"dimension_value"`
	HierarchyLevel  int            `gorm:"default:1" json:"hierarchy_level"`
	ParentDimension *string        `gorm:"size:100" json:"parent_dimension,omitempty"`
	Weight          *float64       `gorm:"default:1" json:"weight,omitempty"`
	Metadata        datatypes.JSON `json:"metadata,omitempty"`
}

func (DimensionMapping) TableName() string {
	return "question_dimension_mapping"
}

// EffectiveWeight 未配置或负权重按 1.0 处理，显式 0 表示该题不计入维度
func (m DimensionMapping) EffectiveWeight() float64 {
	if m.Weight == nil || *m.Weight < 0 {
		return 1.0
	}
	return *m.Weight
}

// Key 维度标识，形如 "algebra_L1"
func (m DimensionMapping) Key() string {
	return fmt.Sprintf("%s_L%d", m.DimensionValue, m.HierarchyLevel)
}

type mappingMeta struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	IsReverse bool   `json:"is_reverse"`
}

func (m DimensionMapping) meta() mappingMeta {
	var meta mappingMeta
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return meta
}

// DisplayName 优先取 metadata.name，否则用维度值
func (m DimensionMapping) DisplayName() string {
	if name := m.meta().Name; name != "" {
		return name
	}
	return m.DimensionValue
}

// Reverse 问卷反向题，metadata 中 direction 为 reverse 或 is_reverse 为 true
func (m DimensionMapping) Reverse() bool {
	meta := m.meta()
	return meta.IsReverse || strings.EqualFold(meta.Direction, "reverse")
}
