package modelhr

import (
	"testing"

	"github.com/netfryer/maestro/internal/modelhr/types"
)

func TestEvaluateSuiteForStatusChange_RegressionOnFailCount(t *testing.T) {
	m := baseModel()
	results := []CanaryTaskResult{
		{Task: CanaryTask{ID: "t1"}, Passed: false, Quality: 0.5},
		{Task: CanaryTask{ID: "t2"}, Passed: false, Quality: 0.5},
	}
	action, reason := EvaluateSuiteForStatusChange(m, results)
	if action != string(types.ActionProbation) || reason != ReasonCanaryRegression {
		t.Errorf("got action=%s reason=%s", action, reason)
	}
}

func TestEvaluateSuiteForStatusChange_RegressionOnLowQuality(t *testing.T) {
	m := baseModel()
	results := []CanaryTaskResult{
		{Task: CanaryTask{ID: "t1"}, Passed: true, Quality: 0.5},
	}
	action, reason := EvaluateSuiteForStatusChange(m, results)
	if action != string(types.ActionProbation) || reason != ReasonCanaryRegression {
		t.Errorf("got action=%s reason=%s", action, reason)
	}
}

func TestEvaluateSuiteForStatusChange_Graduate(t *testing.T) {
	m := baseModel()
	results := []CanaryTaskResult{
		{Task: CanaryTask{ID: "t1"}, Passed: true, Quality: 0.9},
		{Task: CanaryTask{ID: "t2"}, Passed: true, Quality: 0.95},
	}
	action, reason := EvaluateSuiteForStatusChange(m, results)
	if action != string(types.ActionActivate) || reason != ReasonCanaryGraduate {
		t.Errorf("got action=%s reason=%s", action, reason)
	}
}

func TestEvaluateSuiteForStatusChange_NoChange(t *testing.T) {
	m := baseModel()
	results := []CanaryTaskResult{
		{Task: CanaryTask{ID: "t1"}, Passed: true, Quality: 0.75},
	}
	action, reason := EvaluateSuiteForStatusChange(m, results)
	if action != CanaryActionNone || reason != ReasonNoChange {
		t.Errorf("got action=%s reason=%s", action, reason)
	}
}

func TestEvaluateSuiteForStatusChange_PerModelThresholdOverride(t *testing.T) {
	m := baseModel()
	m.Governance.CanaryThresholds = types.CanaryThresholds{GraduateQuality: 0.99}
	results := []CanaryTaskResult{
		{Task: CanaryTask{ID: "t1"}, Passed: true, Quality: 0.9},
	}
	action, _ := EvaluateSuiteForStatusChange(m, results)
	if action == string(types.ActionActivate) {
		t.Errorf("expected no graduate with raised threshold, got %s", action)
	}
}
