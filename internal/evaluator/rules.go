package evaluator

import (
	"fmt"
	"strconv"

	"wisefido-vitals/internal/models"
)

// 阈值
const (
	heartRateCriticalHigh = 120
	heartRateHigh         = 100
	heartRateCriticalLow  = 40
	heartRateLow          = 60

	systolicCritical  = 180
	diastolicCritical = 110
	systolicHigh      = 140
	diastolicHigh     = 90

	oxygenCritical = 90
	oxygenLow      = 95

	temperatureCritical = 103.0
	temperatureHigh     = 100.4
)

func candidate(sample *models.VitalsSample, severity models.Severity, title, message string) *models.AlertCandidate {
	return &models.AlertCandidate{
		Type:      models.AlertTypeVitalSigns,
		Severity:  severity,
		Title:     title,
		Message:   message,
		PatientID: sample.PatientID,
	}
}

// HeartRateRule 心率：>120 CRITICAL，>100 HIGH，<40 CRITICAL，<60 MEDIUM
func HeartRateRule(sample *models.VitalsSample) *models.AlertCandidate {
	hr := sample.Vitals.HeartRate
	if hr == nil {
		return nil
	}
	v := *hr
	message := fmt.Sprintf("Heart rate is %d bpm", v)

	switch {
	case v > heartRateCriticalHigh:
		return candidate(sample, models.SeverityCritical, "High Heart Rate", message)
	case v > heartRateHigh:
		return candidate(sample, models.SeverityHigh, "High Heart Rate", message)
	case v < heartRateCriticalLow:
		return candidate(sample, models.SeverityCritical, "Low Heart Rate", message)
	case v < heartRateLow:
		return candidate(sample, models.SeverityMedium, "Low Heart Rate", message)
	}
	return nil
}

// BloodPressureRule 血压：收缩压与舒张压都上报时才评估
// 收缩压或舒张压任一越界即触发同一级别
func BloodPressureRule(sample *models.VitalsSample) *models.AlertCandidate {
	sys, dia := sample.Vitals.SystolicBP, sample.Vitals.DiastolicBP
	if sys == nil || dia == nil {
		return nil
	}
	message := fmt.Sprintf("Blood pressure is %d/%d mmHg", *sys, *dia)

	switch {
	case *sys > systolicCritical || *dia > diastolicCritical:
		return candidate(sample, models.SeverityCritical, "High Blood Pressure", message)
	case *sys > systolicHigh || *dia > diastolicHigh:
		return candidate(sample, models.SeverityHigh, "High Blood Pressure", message)
	}
	return nil
}

// OxygenSaturationRule 血氧：<90 CRITICAL，<95 HIGH
func OxygenSaturationRule(sample *models.VitalsSample) *models.AlertCandidate {
	spo2 := sample.Vitals.OxygenSaturation
	if spo2 == nil {
		return nil
	}
	message := fmt.Sprintf("Oxygen saturation is %d%%", *spo2)

	switch {
	case *spo2 < oxygenCritical:
		return candidate(sample, models.SeverityCritical, "Low Oxygen Saturation", message)
	case *spo2 < oxygenLow:
		return candidate(sample, models.SeverityHigh, "Low Oxygen Saturation", message)
	}
	return nil
}

// TemperatureRule 体温（°F）：>103.0 CRITICAL，>100.4 MEDIUM
func TemperatureRule(sample *models.VitalsSample) *models.AlertCandidate {
	temp := sample.Vitals.Temperature
	if temp == nil {
		return nil
	}
	message := fmt.Sprintf("Temperature is %s°F", strconv.FormatFloat(*temp, 'f', -1, 64))

	switch {
	case *temp > temperatureCritical:
		return candidate(sample, models.SeverityCritical, "High Temperature", message)
	case *temp > temperatureHigh:
		return candidate(sample, models.SeverityMedium, "High Temperature", message)
	}
	return nil
}
