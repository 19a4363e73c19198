package evaluator

import (
	"wisefido-vitals/internal/models"
)

// Rule 单个测量字段组的阈值规则；字段缺失或未越界时返回 nil
type Rule func(sample *models.VitalsSample) *models.AlertCandidate

// Evaluator 生命体征阈值评估器（无状态，无 I/O）
type Evaluator struct {
	rules []Rule
}

// NewEvaluator 创建评估器，规则顺序固定：心率、血压、血氧、体温
func NewEvaluator() *Evaluator {
	return &Evaluator{
		rules: []Rule{
			HeartRateRule,
			BloodPressureRule,
			OxygenSaturationRule,
			TemperatureRule,
		},
	}
}

// Evaluate 评估单个样本，每个字段组最多产出一个候选报警
func (e *Evaluator) Evaluate(sample *models.VitalsSample) []models.AlertCandidate {
	if sample == nil {
		return nil
	}

	var candidates []models.AlertCandidate
	for _, rule := range e.rules {
		if c := rule(sample); c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}
